// Package server runs the per-connection receive loop, decoding inbound
// envelopes and dispatching them to type-specific operations.
package server

import (
	"errors"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// operationFunc handles one decoded inbound envelope. Operations validate
// their own preconditions and reply with structured errors instead of tearing
// the connection down.
type operationFunc func(c *Connection, env *Envelope)

// Router dispatches inbound envelopes by type. The dispatch table is built
// once at construction over the closed set of inbound message types; an
// unknown type yields an error envelope and the loop continues.
type Router struct {
	hub *Hub
	ops map[MessageType]operationFunc
}

func newRouter(h *Hub) *Router {
	r := &Router{hub: h}
	r.ops = map[MessageType]operationFunc{
		TypeAuthenticate: r.handleAuthenticate,
		TypeChatMessage:  r.handleChatMessage,
		TypeJoinRoom:     r.handleJoinRoom,
		TypeLeaveRoom:    r.handleLeaveRoom,
		TypeTypingStart:  r.handleTyping,
		TypeTypingStop:   r.handleTyping,
		TypeAIRequest:    r.handleAIRequest,
		TypePing:         r.handlePing,
	}
	return r
}

// serve is the receive loop for one connection. It exits on transport errors
// or read-deadline expiry (the write pump's keepalive pings keep a live peer
// inside the deadline); protocol errors only produce error replies. Loop exit
// always runs full teardown.
func (r *Router) serve(c *Connection) {
	defer r.hub.teardown(c, "connection_closed")

	r.setupRead(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			r.logReadError(c, err)
			return
		}
		r.extendReadDeadline(c)

		r.hub.registry.Touch(c.ID())
		c.incrementReceived()

		if !c.allowMessage() {
			r.sendError(c, "rate limit exceeded, message discarded", "rate_limited")
			continue
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			r.sendError(c, "invalid message format", "invalid_message")
			continue
		}

		op, ok := r.ops[env.Type]
		if !ok {
			r.sendError(c, "unknown message type: "+string(env.Type), "unknown_type")
			continue
		}

		op(c, env)
	}
}

// setupRead arms the read deadline and the pong handler. A pong counts as
// acknowledged liveness: it touches last-activity and extends the deadline.
func (r *Router) setupRead(c *Connection) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.Addr(), err)
	}
	c.conn.SetPongHandler(func(string) error {
		r.hub.registry.Touch(c.ID())
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.Addr(), err)
		}
		return nil
	})
}

func (r *Router) extendReadDeadline(c *Connection) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error extending read deadline for %s: %v", c.Addr(), err)
	}
}

// logReadError classifies the terminal read error for diagnostics. Every read
// error ends the loop; classification only decides the log line.
func (r *Router) logReadError(c *Connection, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size", c.Addr())
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.Addr(), err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.Addr(), err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Printf("Unexpected WebSocket error from %s: %v", c.Addr(), err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.Addr(), err)
	}
}

// sendError delivers a structured error envelope to the originating
// connection. The connection stays open; a failed delivery is left for the
// read loop or heartbeat to detect.
func (r *Router) sendError(c *Connection, message, code string) {
	r.hub.registry.recordErrors(1)

	env, err := newEnvelope(TypeError, ErrorPayload{Message: message, Code: code})
	if err != nil {
		slog.Error("failed to build error envelope", "error", err)
		return
	}
	if err := r.hub.broadcaster.Send(c, env); err != nil {
		slog.Debug("failed to deliver error envelope", "id", c.ID(), "error", err)
	}
}
