package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCannedResponderGreets(t *testing.T) {
	r := NewCannedResponder()

	reply, err := r.Generate(context.Background(), "hello there", nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "Hello")
}

func TestCannedResponderUsesHistory(t *testing.T) {
	r := NewCannedResponder()

	reply, err := r.Generate(context.Background(), "what did we decide?", []string{"ship it", "tomorrow"})
	require.NoError(t, err)
	assert.Contains(t, reply, "2 messages")
}

func TestCannedResponderEchoesUnknownPrompts(t *testing.T) {
	r := NewCannedResponder()

	reply, err := r.Generate(context.Background(), "quarks", nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "quarks")
}

func TestCannedResponderRejectsEmptyPrompt(t *testing.T) {
	r := NewCannedResponder()

	_, err := r.Generate(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCannedResponderHonorsCancellation(t *testing.T) {
	r := NewCannedResponder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Generate(ctx, "hello", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnavailableAlwaysFails(t *testing.T) {
	_, err := Unavailable{}.Generate(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}
