// Package ai defines the AI generation collaborator consumed by the chat
// core. Real model backends live outside this repository; the canned
// responder below keeps ai_request exercisable end to end.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable signals that no reply can be generated right now. The core
// surfaces it to the requesting connection and never retries.
var ErrUnavailable = errors.New("ai responder unavailable")

// Responder generates a reply to a prompt. history carries recent room
// messages, oldest first, as generation context.
type Responder interface {
	Generate(ctx context.Context, prompt string, history []string) (string, error)
}

// CannedResponder is a deterministic local Responder used as the default
// backend and in tests.
type CannedResponder struct{}

var _ Responder = (*CannedResponder)(nil)

// NewCannedResponder returns a responder that answers from a small set of
// templates.
func NewCannedResponder() *CannedResponder {
	return &CannedResponder{}
}

// Generate produces a canned reply. It honors context cancellation so slow
// collaborator semantics can be simulated upstream.
func (r *CannedResponder) Generate(ctx context.Context, prompt string, history []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", ErrUnavailable
	}

	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "hello"), strings.Contains(lower, "hi"):
		return "Hello! How can I help you today?", nil
	case strings.Contains(lower, "help"):
		return "I can answer questions about this chat. Ask away.", nil
	case len(history) > 0:
		return fmt.Sprintf("Considering the last %d messages: %q is a good question.", len(history), prompt), nil
	default:
		return fmt.Sprintf("You said: %q. Tell me more.", prompt), nil
	}
}

// Unavailable is a Responder that always fails with ErrUnavailable, for
// exercising the collaborator-error path.
type Unavailable struct{}

var _ Responder = (*Unavailable)(nil)

// Generate always returns ErrUnavailable.
func (Unavailable) Generate(context.Context, string, []string) (string, error) {
	return "", ErrUnavailable
}
