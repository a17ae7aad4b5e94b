// Package server manages individual WebSocket connections, handling the write
// pump, rate limiting, and per-connection lifecycle state.
package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ConnState describes where a connection is in its lifecycle.
type ConnState int32

const (
	// StateConnected is the initial state after a successful upgrade.
	StateConnected ConnState = iota
	// StateAuthenticated is entered after a successful authenticate message.
	StateAuthenticated
	// StateInactive is set by the heartbeat monitor when a connection has
	// gone idle past the configured threshold.
	StateInactive
	// StateDisconnected is terminal; the registry entry is gone.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateInactive:
		return "inactive"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ConnType tags a connection for accounting purposes.
type ConnType string

const (
	ConnTypeGuest  ConnType = "guest"
	ConnTypeUser   ConnType = "user"
	ConnTypeSystem ConnType = "system"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long the read side waits for any traffic (including
	// pong control frames) before the connection is considered dead.
	pongWait = 60 * time.Second
	// pingPeriod is the write pump's keepalive interval. Must be less than
	// pongWait so a pong can arrive before the read deadline expires.
	pingPeriod = 54 * time.Second

	sendBufferSize = 256
)

var errConnectionClosed = errors.New("connection closed")

// Connection is one accepted WebSocket session. It is owned by the Registry
// for its lifetime; handlers reference it by id and must not hold it past the
// current dispatch.
type Connection struct {
	id      string
	addr    string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	// done is closed exactly once when the connection is removed from the
	// registry. The write pump and heartbeat monitor select on it.
	done      chan struct{}
	closeOnce sync.Once

	mu               sync.Mutex
	state            ConnState
	connType         ConnType
	username         string
	userID           string
	rooms            map[string]struct{}
	messagesSent     uint64
	messagesReceived uint64
	connectedAt      time.Time
	lastActivity     time.Time
	lastPing         time.Time
}

// newConnection wraps an upgraded WebSocket connection. The connection starts
// as an unauthenticated guest.
func newConnection(conn *websocket.Conn, addr string) *Connection {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	now := time.Now()
	return &Connection{
		id:           uuid.New().String(),
		addr:         addr,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit.MessagesPerSecond), cfg.RateLimit.Burst),
		done:         make(chan struct{}),
		state:        StateConnected,
		connType:     ConnTypeGuest,
		rooms:        make(map[string]struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
}

// ID returns the opaque connection id generated at accept time.
func (c *Connection) ID() string { return c.id }

// Addr returns the transport-level peer address for diagnostics.
func (c *Connection) Addr() string { return c.addr }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Username returns the authenticated username, or "" for guests.
func (c *Connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// UserID returns the authenticated user id, or "" for guests.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Type returns the connection-type tag.
func (c *Connection) Type() ConnType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connType
}

// Rooms returns a snapshot of the room ids this connection has joined.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// InRoom reports whether the connection has joined the given room.
func (c *Connection) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// LastActivity returns the time of the most recent inbound traffic.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns when the connection was admitted.
func (c *Connection) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

// touch advances lastActivity. lastActivity never moves backwards for a live
// connection.
func (c *Connection) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now := time.Now(); now.After(c.lastActivity) {
		c.lastActivity = now
	}
	if c.state == StateInactive {
		if c.username != "" {
			c.state = StateAuthenticated
		} else {
			c.state = StateConnected
		}
	}
}

func (c *Connection) markPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPing = time.Now()
}

func (c *Connection) markInactive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		c.state = StateInactive
	}
}

func (c *Connection) incrementReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesReceived++
}

func (c *Connection) incrementSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesSent++
}

// markClosed transitions to Disconnected and releases everything waiting on
// the connection. Safe to call more than once.
func (c *Connection) markClosed() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// GetSendChan returns the connection's outbound frame channel for reading
// queued deliveries. Read-only from the caller's perspective.
func (c *Connection) GetSendChan() <-chan []byte { return c.send }

// Close force-marks the connection dead and closes its transport. Subsequent
// deliveries fail immediately; the registry entry is reaped by the next
// failed delivery, the receive loop, or the heartbeat monitor.
func (c *Connection) Close() {
	c.markClosed()
	c.closeTransport()
}

// allowMessage applies the per-connection inbound rate limit.
func (c *Connection) allowMessage() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// enqueue hands a frame to the write pump. It fails instead of blocking the
// caller past timeout; a failure here is a disconnect signal, never retried.
func (c *Connection) enqueue(data []byte, timeout time.Duration) error {
	if c.isClosed() {
		return errConnectionClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.send <- data:
		c.incrementSent()
		return nil
	case <-c.done:
		return errConnectionClosed
	case <-timer.C:
		return errors.New("send buffer full")
	}
}

// probe sends a ping control frame. WriteControl is safe to call concurrently
// with the write pump.
func (c *Connection) probe() error {
	if c.conn == nil || c.isClosed() {
		return errConnectionClosed
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return err
	}
	c.markPing()
	return nil
}

// closeTransport closes the underlying socket, tolerating the usual close
// races.
func (c *Connection) closeTransport() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection from %s: %v", c.addr, err)
	}
}

// writePump drains the send channel to the peer and emits keepalive pings.
// It is the only writer of data frames, which preserves per-connection FIFO
// ordering. Exits when the connection is torn down or a write fails; a failed
// write closes the socket so the read loop notices and runs teardown.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	for {
		select {
		case <-c.done:
			c.writeCloseMessage()
			return
		case message := <-c.send:
			if !c.writeMessage(message) {
				return
			}
		case <-ticker.C:
			if err := c.probe(); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeCloseMessage() {
	if c.conn == nil {
		return
	}
	deadline := time.Now().Add(writeWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, []byte{}, deadline); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error writing close message to %s: %v", c.addr, err)
	}
}

// writeMessage writes one envelope as its own text frame. Frames are never
// batched: clients decode exactly one envelope per frame.
func (c *Connection) writeMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		log.Printf("Error writing message to %s: %v", c.addr, err)
		return false
	}
	return true
}
