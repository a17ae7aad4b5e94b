// Package server coordinates connection admission, message distribution, and
// connection cleanup for the chat system via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thomas-Heisig/chat-system-sub000/internal/ai"
	"github.com/Thomas-Heisig/chat-system-sub000/internal/storage"
)

const serverName = "chat-system"

// features is the capability summary advertised in the welcome envelope.
var features = []string{
	"chat_message",
	"rooms",
	"typing_indicators",
	"ai_request",
	"heartbeat",
}

// Hub wires the connection registry, broadcast engine, protocol router, and
// external collaborators together, and drives per-connection goroutines and
// graceful shutdown.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	router      *Router
	store       storage.MessageStore
	responder   ai.Responder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub around the given collaborators. A nil store disables
// persistence and history replay; a nil responder makes ai_request reply with
// a structured error.
func NewHub(store storage.MessageStore, responder ai.Responder) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		registry:  NewRegistry(),
		store:     store,
		responder: responder,
		ctx:       ctx,
		cancel:    cancel,
	}
	h.broadcaster = NewBroadcaster(h.registry, currentConfig().SendTimeout)
	h.broadcaster.onEvict = h.teardown
	h.router = newRouter(h)
	return h
}

// Registry exposes the connection registry for monitoring endpoints.
func (h *Hub) Registry() *Registry { return h.registry }

// Broadcaster exposes the broadcast engine.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// HandleConnection admits an upgraded WebSocket session and starts its three
// goroutines: write pump, receive loop, and heartbeat monitor.
func (h *Hub) HandleConnection(conn *websocket.Conn, addr string) {
	c := h.registry.Admit(conn, addr)

	h.sendWelcome(c)

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		h.router.serve(c)
	}()
	go func() {
		defer h.wg.Done()
		h.runHeartbeat(c)
	}()
}

func (h *Hub) sendWelcome(c *Connection) {
	payload := WelcomePayload{
		Server:       serverName,
		ConnectionID: c.ID(),
		Features:     features,
		Stats:        h.registry.Stats(),
	}
	env, err := newEnvelope(TypeWelcome, payload)
	if err != nil {
		slog.Error("failed to build welcome envelope", "error", err)
		return
	}
	if err := h.broadcaster.Send(c, env); err != nil {
		slog.Warn("failed to deliver welcome envelope", "id", c.ID(), "error", err)
	}
}

// teardown removes a connection from every index, closes its transport, and
// announces the departure of an authenticated user. Safe to call from both
// the receive loop and the heartbeat monitor: only the caller that actually
// removes the registry entry broadcasts.
func (h *Hub) teardown(c *Connection, reason string) {
	username := c.Username()
	userID := c.UserID()

	if !h.registry.Remove(c.ID(), reason) {
		return
	}
	c.closeTransport()

	if username == "" {
		return
	}
	env, err := newEnvelope(TypeUserOffline, PresencePayload{Username: username, UserID: userID})
	if err != nil {
		slog.Error("failed to build user_offline envelope", "error", err)
		return
	}
	h.broadcaster.Broadcast(env, TargetGlobal, nil)
}

// Shutdown closes every client connection and waits for the per-connection
// goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("initiating hub shutdown")
	h.cancel()

	for _, c := range h.registry.Connections() {
		h.registry.Remove(c.ID(), "server_shutdown")
		c.closeTransport()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		slog.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
