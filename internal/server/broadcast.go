// Package server fans messages out to resolved recipient sets with delivery
// accounting through the Broadcaster type.
package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TargetGlobal addresses a broadcast at every active connection instead of a
// single room.
const TargetGlobal = "global"

// Broadcaster delivers envelopes to single connections or resolved recipient
// sets. Failed recipients are disconnected after the fan-out completes;
// failure of one recipient never blocks or aborts delivery to the others.
type Broadcaster struct {
	registry    *Registry
	sendTimeout time.Duration

	// onEvict, when set, runs the full teardown for a failed recipient so
	// departures are announced the same way as any other disconnect.
	// Without it the recipient is only removed from the registry.
	onEvict func(c *Connection, reason string)
}

// BroadcastResult reports exact delivery counts for the membership snapshot
// taken when the broadcast was invoked.
type BroadcastResult struct {
	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	Total        int    `json:"total"`
	BroadcastID  string `json:"broadcast_id"`
}

// NewBroadcaster wires a broadcaster to the registry it resolves recipients
// from and cleans failures through.
func NewBroadcaster(registry *Registry, sendTimeout time.Duration) *Broadcaster {
	if sendTimeout <= 0 {
		sendTimeout = writeWait
	}
	return &Broadcaster{registry: registry, sendTimeout: sendTimeout}
}

// Send delivers one envelope to a single connection. Transport failure is not
// retried; the caller decides whether to treat it as a disconnect signal.
func (b *Broadcaster) Send(c *Connection, env *Envelope) error {
	stampEnvelope(env, "", "")

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := c.enqueue(data, b.sendTimeout); err != nil {
		return err
	}
	b.registry.recordSent(1)
	return nil
}

// Broadcast resolves the target set (room members, or all active connections
// for TargetGlobal), removes excluded ids, stamps the envelope with a fresh
// broadcast id and timestamp, and delivers to every recipient concurrently.
// The membership snapshot is taken at invocation time: a connection joining
// the room mid-broadcast does not receive it. Recipients whose delivery fails
// are disconnected once the fan-out completes.
func (b *Broadcaster) Broadcast(env *Envelope, target string, exclude map[string]struct{}) BroadcastResult {
	var recipients []*Connection
	roomID := ""
	if target == TargetGlobal || target == "" {
		recipients = b.registry.Connections()
	} else {
		roomID = target
		recipients = b.registry.MembersOf(target)
	}

	broadcastID := uuid.New().String()
	stampEnvelope(env, broadcastID, roomID)

	result := BroadcastResult{BroadcastID: broadcastID}

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal broadcast envelope", "type", env.Type, "error", err)
		b.registry.recordErrors(1)
		result.ErrorCount = 1
		return result
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []*Connection
	)

	for _, c := range recipients {
		if _, skip := exclude[c.ID()]; skip {
			continue
		}
		result.Total++

		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.enqueue(data, b.sendTimeout); err != nil {
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	result.ErrorCount = len(failed)
	result.SuccessCount = result.Total - result.ErrorCount

	for _, c := range failed {
		slog.Warn("broadcast delivery failed, disconnecting recipient",
			"id", c.ID(), "addr", c.Addr(), "broadcast_id", broadcastID)
		if b.onEvict != nil {
			b.onEvict(c, "send_failure")
			continue
		}
		b.registry.Remove(c.ID(), "send_failure")
		c.closeTransport()
	}

	b.registry.recordSent(result.SuccessCount)
	b.registry.recordErrors(result.ErrorCount)
	b.registry.recordBroadcast()

	return result
}

// stampEnvelope attaches delivery metadata. Existing message ids are kept so
// a persisted message keeps its stored identity on the wire.
func stampEnvelope(env *Envelope, broadcastID, roomID string) {
	if env.Metadata == nil {
		env.Metadata = &Metadata{}
	}
	if env.Metadata.MessageID == "" {
		env.Metadata.MessageID = uuid.New().String()
	}
	if broadcastID != "" {
		env.Metadata.BroadcastID = broadcastID
	}
	if roomID != "" {
		env.Metadata.RoomID = roomID
	}
	env.Metadata.Timestamp = time.Now()
}
