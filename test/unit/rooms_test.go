// Package unit contains unit tests for the room index side of the registry.
package unit

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Thomas-Heisig/chat-system-sub000/internal/server"
)

func TestJoinRoomCreatesRoomLazily(t *testing.T) {
	registry := server.NewRegistry()
	c := registry.Admit(nil, "10.0.0.1:1111")

	if registry.RoomCount() != 0 {
		t.Fatalf("Expected no rooms initially, got %d", registry.RoomCount())
	}

	if !registry.JoinRoom(c.ID(), "general") {
		t.Fatal("Expected join of a registered connection to succeed")
	}
	if registry.RoomCount() != 1 {
		t.Errorf("Expected 1 room after first join, got %d", registry.RoomCount())
	}
	if registry.RoomMemberCount("general") != 1 {
		t.Errorf("Expected 1 member in general, got %d", registry.RoomMemberCount("general"))
	}
	if !c.InRoom("general") {
		t.Error("Expected connection-side membership to be recorded")
	}
}

func TestJoinRoomTwiceIsNoOp(t *testing.T) {
	registry := server.NewRegistry()
	c := registry.Admit(nil, "10.0.0.1:1111")

	registry.JoinRoom(c.ID(), "general")
	if !registry.JoinRoom(c.ID(), "general") {
		t.Error("Expected re-join to report success")
	}
	if registry.RoomMemberCount("general") != 1 {
		t.Errorf("Expected member count to stay at 1, got %d", registry.RoomMemberCount("general"))
	}
}

func TestJoinRoomUnknownConnection(t *testing.T) {
	registry := server.NewRegistry()

	if registry.JoinRoom("missing", "general") {
		t.Error("Expected join of an unknown connection to fail")
	}
	if registry.RoomCount() != 0 {
		t.Error("Expected no room to be created for a failed join")
	}
}

func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	registry := server.NewRegistry()
	c := registry.Admit(nil, "10.0.0.1:1111")
	registry.JoinRoom(c.ID(), "general")

	if !registry.LeaveRoom(c.ID(), "general") {
		t.Fatal("Expected leave of a joined room to succeed")
	}
	if c.InRoom("general") {
		t.Error("Expected connection-side membership to be cleared")
	}
	if registry.RoomCount() != 0 {
		t.Errorf("Expected emptied room to be deleted, got %d rooms", registry.RoomCount())
	}
}

func TestLeaveRoomNotJoined(t *testing.T) {
	registry := server.NewRegistry()
	c := registry.Admit(nil, "10.0.0.1:1111")
	other := registry.Admit(nil, "10.0.0.2:2222")
	registry.JoinRoom(other.ID(), "general")

	if registry.LeaveRoom(c.ID(), "general") {
		t.Error("Expected leave of a room not joined to fail")
	}
	if registry.LeaveRoom(c.ID(), "missing") {
		t.Error("Expected leave of a nonexistent room to fail")
	}
	if registry.RoomMemberCount("general") != 1 {
		t.Errorf("Expected other member to be unaffected, got %d", registry.RoomMemberCount("general"))
	}
}

func TestMembersOfSnapshot(t *testing.T) {
	registry := server.NewRegistry()
	c1 := registry.Admit(nil, "10.0.0.1:1111")
	c2 := registry.Admit(nil, "10.0.0.2:2222")
	registry.Admit(nil, "10.0.0.3:3333")

	registry.JoinRoom(c1.ID(), "general")
	registry.JoinRoom(c2.ID(), "general")

	members := registry.MembersOf("general")
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
	seen := make(map[string]bool)
	for _, m := range members {
		seen[m.ID()] = true
	}
	if !seen[c1.ID()] || !seen[c2.ID()] {
		t.Error("Expected snapshot to contain exactly the joined connections")
	}

	if members := registry.MembersOf("missing"); len(members) != 0 {
		t.Errorf("Expected no members for an unknown room, got %d", len(members))
	}
}

func TestDisconnectRemovesFromAllRooms(t *testing.T) {
	registry := server.NewRegistry()
	c := registry.Admit(nil, "10.0.0.1:1111")
	other := registry.Admit(nil, "10.0.0.2:2222")

	registry.JoinRoom(c.ID(), "general")
	registry.JoinRoom(c.ID(), "random")
	registry.JoinRoom(other.ID(), "general")

	registry.Remove(c.ID(), "test")

	if registry.RoomMemberCount("general") != 1 {
		t.Errorf("Expected 1 remaining member in general, got %d", registry.RoomMemberCount("general"))
	}
	if registry.RoomCount() != 1 {
		t.Errorf("Expected the emptied room to be deleted, got %d rooms", registry.RoomCount())
	}
}

// TestRandomizedMembershipConsistency drives the registry through a random
// sequence of admissions, joins, leaves, and disconnects and cross-checks the
// two sides of the membership mapping after every step: a connection listed
// in a room's member set must report that room, and every room a connection
// reports must list it back.
func TestRandomizedMembershipConsistency(t *testing.T) {
	registry := server.NewRegistry()
	rng := rand.New(rand.NewSource(42))
	roomIDs := []string{"general", "random", "dev", "ops"}

	var live []*server.Connection
	for step := 0; step < 500; step++ {
		op := rng.Intn(4)
		switch {
		case op == 0 || len(live) == 0:
			live = append(live, registry.Admit(nil, fmt.Sprintf("10.0.0.1:%d", step)))
		case op == 1:
			c := live[rng.Intn(len(live))]
			if !registry.JoinRoom(c.ID(), roomIDs[rng.Intn(len(roomIDs))]) {
				t.Fatalf("Step %d: join failed for a live connection", step)
			}
		case op == 2:
			c := live[rng.Intn(len(live))]
			registry.LeaveRoom(c.ID(), roomIDs[rng.Intn(len(roomIDs))])
		default:
			i := rng.Intn(len(live))
			registry.Remove(live[i].ID(), "test")
			live = append(live[:i], live[i+1:]...)
		}
		verifyMembershipConsistency(t, registry, live, roomIDs, step)
	}
}

func verifyMembershipConsistency(t *testing.T, registry *server.Registry, live []*server.Connection, roomIDs []string, step int) {
	t.Helper()

	nonEmpty := 0
	for _, roomID := range roomIDs {
		members := registry.MembersOf(roomID)
		if len(members) != registry.RoomMemberCount(roomID) {
			t.Fatalf("Step %d: member snapshot and count disagree for %s: %d vs %d",
				step, roomID, len(members), registry.RoomMemberCount(roomID))
		}
		if len(members) > 0 {
			nonEmpty++
		}
		for _, m := range members {
			if !m.InRoom(roomID) {
				t.Fatalf("Step %d: %s is in room index for %s but does not report membership", step, m.ID(), roomID)
			}
			if !registry.Contains(m.ID()) {
				t.Fatalf("Step %d: room %s lists unregistered connection %s", step, roomID, m.ID())
			}
		}
	}

	// Empty rooms never persist in the index.
	if registry.RoomCount() != nonEmpty {
		t.Fatalf("Step %d: expected %d rooms in index, got %d", step, nonEmpty, registry.RoomCount())
	}

	for _, c := range live {
		for _, roomID := range c.Rooms() {
			found := false
			for _, m := range registry.MembersOf(roomID) {
				if m.ID() == c.ID() {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("Step %d: %s reports room %s but the room does not list it", step, c.ID(), roomID)
			}
		}
	}
}

func TestRoomStats(t *testing.T) {
	registry := server.NewRegistry()
	c1 := registry.Admit(nil, "10.0.0.1:1111")
	c2 := registry.Admit(nil, "10.0.0.1:2222")
	c3 := registry.Admit(nil, "10.0.0.2:3333")

	registry.Authenticate(c1.ID(), "alice", "")
	registry.Authenticate(c2.ID(), "alice", "")
	registry.JoinRoom(c1.ID(), "general")
	registry.JoinRoom(c2.ID(), "general")
	registry.JoinRoom(c3.ID(), "general")

	stats, ok := registry.RoomStats("general")
	if !ok {
		t.Fatal("Expected stats for an existing room")
	}
	if stats.MemberCount != 3 {
		t.Errorf("Expected 3 members, got %d", stats.MemberCount)
	}
	if stats.DistinctUsernames != 1 {
		t.Errorf("Expected 1 distinct username, got %d", stats.DistinctUsernames)
	}
	if stats.OldestJoinTime.IsZero() {
		t.Error("Expected oldest join time to be set")
	}

	if _, ok := registry.RoomStats("missing"); ok {
		t.Error("Expected no stats for an unknown room")
	}
}
