// Package integration verifies message distribution across many concurrent
// clients.
package integration

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thomas-Heisig/chat-system-sub000/internal/server"
	"github.com/Thomas-Heisig/chat-system-sub000/test/testhelpers"
)

func TestGlobalBroadcastReachesAllClients(t *testing.T) {
	hub := server.NewHub(nil, nil)
	ts := testhelpers.StartChatServer(t, hub)

	const numClients = 4
	clients := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		conn := testhelpers.MustConnect(t, ts)
		testhelpers.ReadEnvelopeOfType(t, conn, server.TypeWelcome, envelopeTimeout)
		clients = append(clients, conn)
	}

	testhelpers.SendEnvelope(t, clients[0], server.TypeChatMessage, server.ChatMessagePayload{
		Username: "alice",
		Message:  "hello everyone",
	})

	for i, conn := range clients {
		env := testhelpers.ReadEnvelopeOfType(t, conn, server.TypeChatMessage, envelopeTimeout)

		var payload server.ChatMessagePayload
		testhelpers.UnmarshalPayload(t, env, &payload)
		if payload.Message != "hello everyone" {
			t.Errorf("Client %d received unexpected message: %q", i, payload.Message)
		}
	}
}

func TestTypingIndicatorExcludesSender(t *testing.T) {
	hub := server.NewHub(nil, nil)
	ts := testhelpers.StartChatServer(t, hub)

	alice := testhelpers.MustConnect(t, ts)
	bob := testhelpers.MustConnect(t, ts)
	carol := testhelpers.MustConnect(t, ts)
	for _, conn := range []*websocket.Conn{alice, bob, carol} {
		testhelpers.ReadEnvelopeOfType(t, conn, server.TypeWelcome, envelopeTimeout)
	}

	for _, conn := range []*websocket.Conn{alice, bob, carol} {
		testhelpers.SendEnvelope(t, conn, server.TypeJoinRoom, server.RoomPayload{RoomID: "general"})
		testhelpers.ReadEnvelopeOfType(t, conn, server.TypeRoomJoined, envelopeTimeout)
	}

	testhelpers.SendEnvelope(t, alice, server.TypeTypingStart, server.TypingPayload{
		Username: "alice",
		RoomID:   "general",
	})

	for _, conn := range []*websocket.Conn{bob, carol} {
		env := testhelpers.ReadEnvelopeOfType(t, conn, server.TypeTyping, envelopeTimeout)

		var payload server.TypingPayload
		testhelpers.UnmarshalPayload(t, env, &payload)
		if payload.Username != "alice" || !payload.Typing {
			t.Errorf("Unexpected typing indicator: %+v", payload)
		}
	}

	testhelpers.ExpectNoEnvelope(t, alice, 200*time.Millisecond)
}

func TestConcurrentSendersDoNotDropMessages(t *testing.T) {
	hub := server.NewHub(nil, nil)
	ts := testhelpers.StartChatServer(t, hub)

	alice := testhelpers.MustConnect(t, ts)
	bob := testhelpers.MustConnect(t, ts)
	testhelpers.ReadEnvelopeOfType(t, alice, server.TypeWelcome, envelopeTimeout)
	testhelpers.ReadEnvelopeOfType(t, bob, server.TypeWelcome, envelopeTimeout)

	const perSender = 5
	for i := 0; i < perSender; i++ {
		testhelpers.SendEnvelope(t, alice, server.TypeChatMessage, server.ChatMessagePayload{
			Username: "alice", Message: "from alice",
		})
		testhelpers.SendEnvelope(t, bob, server.TypeChatMessage, server.ChatMessagePayload{
			Username: "bob", Message: "from bob",
		})
	}

	// Each client receives every message from both senders.
	counts := map[string]int{}
	for i := 0; i < 2*perSender; i++ {
		env := testhelpers.ReadEnvelopeOfType(t, alice, server.TypeChatMessage, envelopeTimeout)

		var payload server.ChatMessagePayload
		testhelpers.UnmarshalPayload(t, env, &payload)
		counts[payload.Username]++
	}
	if counts["alice"] != perSender || counts["bob"] != perSender {
		t.Errorf("Expected %d messages from each sender, got %v", perSender, counts)
	}
}
