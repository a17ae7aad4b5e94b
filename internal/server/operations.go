// Package server implements the type-specific operations the protocol router
// dispatches to.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Thomas-Heisig/chat-system-sub000/internal/storage"
)

// historyLimit caps the recent-message replay sent on room join.
const historyLimit = 50

// handleAuthenticate accepts the client's identity claim and announces the
// user. No credential verification happens here; the claim is trusted as is.
func (r *Router) handleAuthenticate(c *Connection, env *Envelope) {
	var payload AuthenticatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		r.sendError(c, "invalid authenticate payload", "invalid_payload")
		return
	}

	if payload.Username == "" {
		r.sendError(c, "username is required", "invalid_username")
		return
	}
	if len(payload.Username) > maxUsernameLen {
		r.sendError(c, "username too long", "invalid_username")
		return
	}

	if !r.hub.registry.Authenticate(c.ID(), payload.Username, payload.UserID) {
		return
	}

	online, err := newEnvelope(TypeUserOnline, PresencePayload{
		Username: payload.Username,
		UserID:   payload.UserID,
	})
	if err != nil {
		slog.Error("failed to build user_online envelope", "error", err)
		return
	}
	r.hub.broadcaster.Broadcast(online, TargetGlobal, nil)
}

// handleChatMessage validates, persists, and broadcasts a chat message. The
// sender is included in the room broadcast (self-echo). Guests may chat; a
// requires_auth flag on the payload rejects unauthenticated senders.
func (r *Router) handleChatMessage(c *Connection, env *Envelope) {
	var payload ChatMessagePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		r.sendError(c, "invalid chat_message payload", "invalid_payload")
		return
	}

	switch {
	case payload.Username == "":
		r.sendError(c, "username is required", "invalid_username")
		return
	case len(payload.Username) > maxUsernameLen:
		r.sendError(c, "username too long", "invalid_username")
		return
	case payload.Message == "":
		r.sendError(c, "message is required", "invalid_message")
		return
	case len(payload.Message) > maxChatMessageLen:
		r.sendError(c, "message too long", "invalid_message")
		return
	}

	if payload.RequiresAuth && c.State() != StateAuthenticated {
		r.sendError(c, "authentication required", "auth_required")
		return
	}

	out := &Envelope{Metadata: &Metadata{}}

	if r.hub.store != nil {
		saved, err := r.hub.store.Save(r.hub.ctx, &storage.Message{
			RoomID:   payload.RoomID,
			UserID:   c.UserID(),
			Username: payload.Username,
			Content:  payload.Message,
		})
		if err != nil {
			slog.Error("failed to persist chat message", "id", c.ID(), "error", err)
			r.sendError(c, "failed to store message", "storage_error")
			return
		}
		out.Metadata.MessageID = saved.ID
	}

	body, err := newEnvelope(TypeChatMessage, ChatMessagePayload{
		Username: payload.Username,
		Message:  payload.Message,
		RoomID:   payload.RoomID,
	})
	if err != nil {
		slog.Error("failed to build chat_message envelope", "error", err)
		return
	}
	out.Type = body.Type
	out.Payload = body.Payload

	target := payload.RoomID
	if target == "" {
		target = TargetGlobal
	}
	r.hub.broadcaster.Broadcast(out, target, nil)
}

// handleJoinRoom adds the connection to a room, confirms with room_joined,
// and replays recent history from the persistence collaborator.
func (r *Router) handleJoinRoom(c *Connection, env *Envelope) {
	var payload RoomPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		r.sendError(c, "invalid join_room payload", "invalid_payload")
		return
	}
	if payload.RoomID == "" {
		r.sendError(c, "room_id is required", "invalid_room")
		return
	}

	if !r.hub.registry.JoinRoom(c.ID(), payload.RoomID) {
		return
	}

	joined, err := newEnvelope(TypeRoomJoined, RoomEventPayload{
		RoomID:      payload.RoomID,
		MemberCount: r.hub.registry.RoomMemberCount(payload.RoomID),
	})
	if err != nil {
		slog.Error("failed to build room_joined envelope", "error", err)
		return
	}
	if err := r.hub.broadcaster.Send(c, joined); err != nil {
		return
	}

	r.replayHistory(c, payload.RoomID)
}

// replayHistory sends the room's recent stored messages to a joining
// connection. Collaborator failures are surfaced to this connection only.
func (r *Router) replayHistory(c *Connection, roomID string) {
	if r.hub.store == nil {
		return
	}

	messages, err := r.hub.store.Recent(r.hub.ctx, historyLimit, roomID)
	if err != nil {
		slog.Error("failed to load room history", "room", roomID, "error", err)
		r.sendError(c, "failed to load room history", "storage_error")
		return
	}
	if len(messages) == 0 {
		return
	}

	recent, err := newEnvelope(TypeRecentMessages, RecentMessagesPayload{
		RoomID:   roomID,
		Messages: messages,
	})
	if err != nil {
		slog.Error("failed to build recent_messages envelope", "error", err)
		return
	}
	if err := r.hub.broadcaster.Send(c, recent); err != nil {
		slog.Debug("failed to deliver room history", "id", c.ID(), "error", err)
	}
}

// handleLeaveRoom removes the connection from a room. Leaving a room not
// joined is reported as a user-visible error without state change.
func (r *Router) handleLeaveRoom(c *Connection, env *Envelope) {
	var payload RoomPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		r.sendError(c, "invalid leave_room payload", "invalid_payload")
		return
	}
	if payload.RoomID == "" {
		r.sendError(c, "room_id is required", "invalid_room")
		return
	}

	if !r.hub.registry.LeaveRoom(c.ID(), payload.RoomID) {
		r.sendError(c, "not a member of room "+payload.RoomID, "not_in_room")
		return
	}

	left, err := newEnvelope(TypeRoomLeft, RoomEventPayload{
		RoomID:      payload.RoomID,
		MemberCount: r.hub.registry.RoomMemberCount(payload.RoomID),
	})
	if err != nil {
		slog.Error("failed to build room_left envelope", "error", err)
		return
	}
	if err := r.hub.broadcaster.Send(c, left); err != nil {
		slog.Debug("failed to deliver room_left", "id", c.ID(), "error", err)
	}
}

// handleTyping re-broadcasts an ephemeral typing indicator to the room,
// excluding the sender. Indicators are never persisted.
func (r *Router) handleTyping(c *Connection, env *Envelope) {
	var payload TypingPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			r.sendError(c, "invalid typing payload", "invalid_payload")
			return
		}
	}

	username := payload.Username
	if username == "" {
		username = c.Username()
	}

	indicator, err := newEnvelope(TypeTyping, TypingPayload{
		Username: username,
		RoomID:   payload.RoomID,
		Typing:   env.Type == TypeTypingStart,
	})
	if err != nil {
		slog.Error("failed to build typing envelope", "error", err)
		return
	}

	target := payload.RoomID
	if target == "" {
		target = TargetGlobal
	}
	exclude := map[string]struct{}{c.ID(): {}}
	r.hub.broadcaster.Broadcast(indicator, target, exclude)
}

// handleAIRequest launches AI generation as a detached background task so the
// receive loop never blocks on the collaborator. The eventual reply flows
// back through the broadcast engine; connection teardown does not cancel it.
func (r *Router) handleAIRequest(c *Connection, env *Envelope) {
	var payload AIRequestPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		r.sendError(c, "invalid ai_request payload", "invalid_payload")
		return
	}
	if payload.Message == "" {
		r.sendError(c, "message is required", "invalid_message")
		return
	}
	if r.hub.responder == nil {
		r.sendError(c, "ai responder unavailable", "ai_unavailable")
		return
	}

	requestID := ""
	if env.Metadata != nil {
		requestID = env.Metadata.MessageID
	}
	originID := c.ID()

	go r.generateAIReply(originID, requestID, payload)
}

// generateAIReply runs outside the receive loop. Failures are reported to the
// originating connection if it is still registered, logged otherwise, and
// never retried.
func (r *Router) generateAIReply(originID, requestID string, payload AIRequestPayload) {
	history := r.recentContents(payload.RoomID)

	reply, err := r.hub.responder.Generate(context.Background(), payload.Message, history)
	if err != nil {
		slog.Warn("ai generation failed", "origin", originID, "error", err)
		if origin, ok := r.hub.registry.Get(originID); ok {
			r.sendError(origin, "ai request failed: "+err.Error(), "ai_unavailable")
		}
		return
	}

	// A global reply with no surviving originator is no longer relevant;
	// room replies are still delivered to the room.
	if payload.RoomID == "" && !r.hub.registry.Contains(originID) {
		slog.Debug("dropping ai reply, originator gone", "origin", originID)
		return
	}

	response, err := newEnvelope(TypeAIResponse, AIResponsePayload{
		Message:   reply,
		Model:     payload.Model,
		RoomID:    payload.RoomID,
		InReplyTo: requestID,
	})
	if err != nil {
		slog.Error("failed to build ai_response envelope", "error", err)
		return
	}

	target := payload.RoomID
	if target == "" {
		target = TargetGlobal
	}
	r.hub.broadcaster.Broadcast(response, target, nil)
}

// recentContents collects recent stored messages as generation context.
func (r *Router) recentContents(roomID string) []string {
	if r.hub.store == nil {
		return nil
	}
	messages, err := r.hub.store.Recent(context.Background(), 10, roomID)
	if err != nil {
		slog.Debug("failed to load ai context", "room", roomID, "error", err)
		return nil
	}
	contents := make([]string, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, m.Content)
	}
	return contents
}

// handlePing answers with a pong carrying the server clock.
func (r *Router) handlePing(c *Connection, _ *Envelope) {
	pong, err := newEnvelope(TypePong, PongPayload{Timestamp: time.Now()})
	if err != nil {
		slog.Error("failed to build pong envelope", "error", err)
		return
	}
	if err := r.hub.broadcaster.Send(c, pong); err != nil {
		slog.Debug("failed to deliver pong", "id", c.ID(), "error", err)
	}
}
