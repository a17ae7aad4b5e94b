// Package server coordinates connection admission, identity indexing, room
// membership, and teardown through the Registry type.
package server

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Registry owns every live connection together with the username index and
// the room index. All compound mutations (admission, re-authentication,
// removal from every index) happen atomically under one lock so no partial
// update is ever observed.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	byUsername map[string]map[string]*Connection // username -> connection id -> connection
	rooms      map[string]*room
	stats      statsCounters
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*Connection),
		byUsername: make(map[string]map[string]*Connection),
		rooms:      make(map[string]*room),
		stats:      newStatsCounters(),
	}
}

// Admit registers a freshly upgraded transport session in Connected state and
// returns the owning Connection.
func (r *Registry) Admit(conn *websocket.Conn, addr string) *Connection {
	c := newConnection(conn, addr)

	r.mu.Lock()
	r.conns[c.ID()] = c
	r.stats.connectionsByType[ConnTypeGuest]++
	if active := len(r.conns); active > r.stats.peakCount {
		r.stats.peakCount = active
	}
	active := len(r.conns)
	r.mu.Unlock()

	slog.Info("connection admitted", "id", c.ID(), "addr", addr, "active", active)
	return c
}

// Authenticate transitions a connection to Authenticated and indexes it under
// username. A username may map to multiple connections (multi-device). If the
// connection was already authenticated under a different username the stale
// index entry is removed first. Returns false for unknown connection ids.
func (r *Registry) Authenticate(id, username, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}

	previous := c.setAuthenticated(username, userID)
	if previous != "" && previous != username {
		r.unindexUsernameLocked(previous, id)
	}

	bucket := r.byUsername[username]
	if bucket == nil {
		bucket = make(map[string]*Connection)
		r.byUsername[username] = bucket
	}
	bucket[id] = c
	r.stats.connectionsByType[ConnTypeUser]++

	slog.Info("connection authenticated", "id", id, "username", username)
	return true
}

// Touch updates last-activity for a live connection. Unknown ids are a no-op:
// the connection has already disconnected.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		c.touch()
	}
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Contains reports whether the connection is still registered. The heartbeat
// monitor polls this to terminate cooperatively.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Connections returns a snapshot of every live connection, used as the global
// broadcast target set.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// ConnectionsForUsername returns every connection authenticated under the
// given username.
func (r *Registry) ConnectionsForUsername(username string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.byUsername[username]
	conns := make([]*Connection, 0, len(bucket))
	for _, c := range bucket {
		conns = append(conns, c)
	}
	return conns
}

// Remove deletes a connection from the username index, every joined room, and
// the connection table, in that order, as one atomic unit. Idempotent: a
// second call is a no-op returning false.
func (r *Registry) Remove(id, reason string) bool {
	r.mu.Lock()

	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	if username := c.Username(); username != "" {
		r.unindexUsernameLocked(username, id)
	}

	for _, roomID := range c.Rooms() {
		r.removeFromRoomLocked(id, roomID)
	}
	c.clearRooms()

	delete(r.conns, id)
	active := len(r.conns)
	r.mu.Unlock()

	c.markClosed()
	slog.Info("connection removed", "id", id, "addr", c.Addr(), "reason", reason, "active", active)
	return true
}

// MarkInactive flags a connection as unresponsive without removing it. The
// heartbeat monitor uses this before probing.
func (r *Registry) MarkInactive(id string) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		c.markInactive()
	}
}

func (r *Registry) unindexUsernameLocked(username, id string) {
	bucket, ok := r.byUsername[username]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(r.byUsername, username)
	}
}

// setAuthenticated updates the connection's identity fields and returns the
// previous username so the caller can fix the index.
func (c *Connection) setAuthenticated(username, userID string) (previous string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.username
	c.username = username
	c.userID = userID
	c.connType = ConnTypeUser
	if c.state != StateDisconnected {
		c.state = StateAuthenticated
	}
	return previous
}

func (c *Connection) joinRoomLocal(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Connection) leaveRoomLocal(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *Connection) clearRooms() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[string]struct{})
}
