// Package server tracks room membership as a bidirectional mapping between
// connections and rooms, layered on the Registry.
package server

import (
	"log/slog"
	"time"
)

// room is a set of member connection ids with their join times. Rooms are
// created lazily on first join and deleted once the member set empties; an
// empty room never persists in the index.
type room struct {
	members map[string]time.Time // connection id -> joined at
}

// RoomStats summarizes one room for monitoring.
type RoomStats struct {
	RoomID            string    `json:"room_id"`
	MemberCount       int       `json:"member_count"`
	DistinctUsernames int       `json:"distinct_usernames"`
	OldestJoinTime    time.Time `json:"oldest_join_time"`
}

// JoinRoom adds the connection to the room on both sides of the mapping,
// creating the room if absent. Joining a room the connection already belongs
// to is a no-op returning true. Returns false if the connection is unknown
// (already disconnected).
func (r *Registry) JoinRoom(id, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}

	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{members: make(map[string]time.Time)}
		r.rooms[roomID] = rm
	}

	if _, member := rm.members[id]; member {
		return true
	}

	rm.members[id] = time.Now()
	c.joinRoomLocal(roomID)

	slog.Debug("room joined", "id", id, "room", roomID, "members", len(rm.members))
	return true
}

// LeaveRoom removes the connection from both sides of the mapping and deletes
// the room if it becomes empty. Leaving a room not joined is a no-op
// returning false.
func (r *Registry) LeaveRoom(id, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}

	rm, exists := r.rooms[roomID]
	if !exists {
		return false
	}
	if _, member := rm.members[id]; !member {
		return false
	}

	r.removeFromRoomLocked(id, roomID)
	c.leaveRoomLocal(roomID)

	slog.Debug("room left", "id", id, "room", roomID)
	return true
}

// MembersOf returns a snapshot of the room's member connections. The caller
// may iterate freely; membership changes after the call are not reflected.
func (r *Registry) MembersOf(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	conns := make([]*Connection, 0, len(rm.members))
	for id := range rm.members {
		if c, live := r.conns[id]; live {
			conns = append(conns, c)
		}
	}
	return conns
}

// RoomStats reports membership details for one room. The second return value
// is false if the room does not exist.
func (r *Registry) RoomStats(roomID string) (RoomStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return RoomStats{}, false
	}

	stats := RoomStats{RoomID: roomID, MemberCount: len(rm.members)}
	usernames := make(map[string]struct{})
	for id, joined := range rm.members {
		if stats.OldestJoinTime.IsZero() || joined.Before(stats.OldestJoinTime) {
			stats.OldestJoinTime = joined
		}
		if c, live := r.conns[id]; live {
			if username := c.Username(); username != "" {
				usernames[username] = struct{}{}
			}
		}
	}
	stats.DistinctUsernames = len(usernames)
	return stats, true
}

// RoomMemberCount returns the member count for a room, zero if absent.
func (r *Registry) RoomMemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// removeFromRoomLocked drops one member and deletes the room when it empties.
// Caller holds r.mu.
func (r *Registry) removeFromRoomLocked(id, roomID string) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(rm.members, id)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
}
