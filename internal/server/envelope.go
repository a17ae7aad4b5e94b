// Package server defines the wire envelope exchanged with clients and the
// payload types carried by each message kind.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Thomas-Heisig/chat-system-sub000/internal/storage"
)

// MessageType discriminates envelopes on the wire. The set is closed: the
// router maps every inbound type to an operation at construction time, and
// anything else is answered with a structured error.
type MessageType string

// Inbound message types.
const (
	TypeAuthenticate MessageType = "authenticate"
	TypeChatMessage  MessageType = "chat_message"
	TypeJoinRoom     MessageType = "join_room"
	TypeLeaveRoom    MessageType = "leave_room"
	TypeTypingStart  MessageType = "typing_start"
	TypeTypingStop   MessageType = "typing_stop"
	TypeAIRequest    MessageType = "ai_request"
	TypePing         MessageType = "ping"
)

// Outbound-only message types.
const (
	TypeWelcome        MessageType = "welcome"
	TypeError          MessageType = "error"
	TypeUserOnline     MessageType = "user_online"
	TypeUserOffline    MessageType = "user_offline"
	TypeRoomJoined     MessageType = "room_joined"
	TypeRoomLeft       MessageType = "room_left"
	TypePong           MessageType = "pong"
	TypeTyping         MessageType = "typing"
	TypeAIResponse     MessageType = "ai_response"
	TypeRecentMessages MessageType = "recent_messages"
)

// Validation bounds for client-supplied fields.
const (
	maxUsernameLen    = 50
	maxChatMessageLen = 2000
)

// Metadata is delivery information stamped by the server, never by the
// sender. The broadcast engine fills broadcast_id and timestamp at fan-out.
type Metadata struct {
	MessageID   string    `json:"message_id,omitempty"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	RoomID      string    `json:"room_id,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// Envelope is the unit exchanged over the wire: a type discriminator, a
// free-form payload, and server-attached delivery metadata.
type Envelope struct {
	Type     MessageType     `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`
}

var errMissingType = errors.New("envelope missing type")

// decodeEnvelope parses one inbound frame. Decode failures are protocol
// errors: the caller replies with an error envelope and keeps the connection
// open.
func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid message frame: %w", err)
	}
	if env.Type == "" {
		return nil, errMissingType
	}
	return &env, nil
}

// newEnvelope builds an outbound envelope with the payload marshaled in
// place.
func newEnvelope(t MessageType, payload any) (*Envelope, error) {
	env := &Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return env, nil
}

// AuthenticatePayload carries an identity claim. The core trusts the claim as
// is; credential verification belongs to an outer layer.
type AuthenticatePayload struct {
	Username string `json:"username"`
	UserID   string `json:"user_id,omitempty"`
}

// ChatMessagePayload is a chat message for a room, or for everyone when
// RoomID is empty.
type ChatMessagePayload struct {
	Username     string `json:"username"`
	Message      string `json:"message"`
	RoomID       string `json:"room_id,omitempty"`
	RequiresAuth bool   `json:"requires_auth,omitempty"`
}

// RoomPayload names the room for join_room / leave_room.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// TypingPayload is the ephemeral typing indicator; it is broadcast but never
// persisted.
type TypingPayload struct {
	Username string `json:"username,omitempty"`
	RoomID   string `json:"room_id,omitempty"`
	Typing   bool   `json:"typing"`
}

// AIRequestPayload asks the AI collaborator for a reply.
type AIRequestPayload struct {
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ErrorPayload is the structured error reply. The connection stays open.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WelcomePayload greets a freshly admitted connection with a feature summary
// and a live stats snapshot.
type WelcomePayload struct {
	Server       string        `json:"server"`
	ConnectionID string        `json:"connection_id"`
	Features     []string      `json:"features"`
	Stats        StatsSnapshot `json:"stats"`
}

// PongPayload answers a ping with the server clock.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// PresencePayload announces a user coming online or going offline.
type PresencePayload struct {
	Username string `json:"username"`
	UserID   string `json:"user_id,omitempty"`
}

// RoomEventPayload confirms a join or leave back to the requesting
// connection.
type RoomEventPayload struct {
	RoomID      string `json:"room_id"`
	MemberCount int    `json:"member_count"`
}

// AIResponsePayload delivers the AI collaborator's reply.
type AIResponsePayload struct {
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// RecentMessagesPayload replays stored history to a joining connection.
type RecentMessagesPayload struct {
	RoomID   string             `json:"room_id"`
	Messages []*storage.Message `json:"messages"`
}
