package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"type":"chat_message","payload":{"username":"alice","message":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChatMessage, env.Type)

	var payload ChatMessagePayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "alice", payload.Username)
	assert.Equal(t, "hi", payload.Message)
}

func TestDecodeEnvelopeRejectsInvalidJSON(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestDecodeEnvelopeRejectsMissingType(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, errMissingType)
}

func TestNewEnvelopeMarshalsPayload(t *testing.T) {
	env, err := newEnvelope(TypeError, ErrorPayload{Message: "boom", Code: "invalid_message"})
	require.NoError(t, err)
	assert.Equal(t, TypeError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "boom", payload.Message)
	assert.Equal(t, "invalid_message", payload.Code)
}

func TestNewEnvelopeWithoutPayload(t *testing.T) {
	env, err := newEnvelope(TypePing, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)
}

func TestStampEnvelope(t *testing.T) {
	env := &Envelope{Type: TypeChatMessage}
	stampEnvelope(env, "bcast-1", "general")

	require.NotNil(t, env.Metadata)
	assert.NotEmpty(t, env.Metadata.MessageID)
	assert.Equal(t, "bcast-1", env.Metadata.BroadcastID)
	assert.Equal(t, "general", env.Metadata.RoomID)
	assert.False(t, env.Metadata.Timestamp.IsZero())
}

func TestStampEnvelopeKeepsStoredMessageID(t *testing.T) {
	env := &Envelope{Type: TypeChatMessage, Metadata: &Metadata{MessageID: "stored"}}
	stampEnvelope(env, "bcast-1", "")

	assert.Equal(t, "stored", env.Metadata.MessageID)
	assert.Empty(t, env.Metadata.RoomID)
}

func TestMetadataOmittedWhenUnset(t *testing.T) {
	data, err := json.Marshal(Envelope{Type: TypePing})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "metadata")
	assert.NotContains(t, string(data), "payload")
}
