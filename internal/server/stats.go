// Package server keeps running delivery and connection counters for the
// monitoring surface.
package server

// statsCounters are mutated under the registry lock by the Registry and the
// broadcast engine. Every counter is monotonic; only the derived active count
// can shrink.
type statsCounters struct {
	peakCount         int
	connectionsByType map[ConnType]uint64
	messagesSent      uint64
	messagesBroadcast uint64
	errors            uint64
}

func newStatsCounters() statsCounters {
	return statsCounters{
		connectionsByType: make(map[ConnType]uint64),
	}
}

// StatsSnapshot is a point-in-time copy of the registry counters, exposed to
// health/monitoring endpoints and the welcome envelope.
type StatsSnapshot struct {
	ActiveCount            int               `json:"active_count"`
	PeakCount              int               `json:"peak_count"`
	RoomCount              int               `json:"room_count"`
	ConnectionsByType      map[string]uint64 `json:"connections_by_type"`
	MessagesSentTotal      uint64            `json:"messages_sent_total"`
	MessagesBroadcastTotal uint64            `json:"messages_broadcast_total"`
	ErrorTotal             uint64            `json:"error_total"`
}

// Stats returns a consistent snapshot of all counters.
func (r *Registry) Stats() StatsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType := make(map[string]uint64, len(r.stats.connectionsByType))
	for t, n := range r.stats.connectionsByType {
		byType[string(t)] = n
	}

	return StatsSnapshot{
		ActiveCount:            len(r.conns),
		PeakCount:              r.stats.peakCount,
		RoomCount:              len(r.rooms),
		ConnectionsByType:      byType,
		MessagesSentTotal:      r.stats.messagesSent,
		MessagesBroadcastTotal: r.stats.messagesBroadcast,
		ErrorTotal:             r.stats.errors,
	}
}

// recordSent adds successfully enqueued deliveries.
func (r *Registry) recordSent(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.stats.messagesSent += uint64(n)
	r.mu.Unlock()
}

// recordBroadcast counts one completed broadcast fan-out.
func (r *Registry) recordBroadcast() {
	r.mu.Lock()
	r.stats.messagesBroadcast++
	r.mu.Unlock()
}

// recordErrors adds protocol or delivery failures.
func (r *Registry) recordErrors(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.stats.errors += uint64(n)
	r.mu.Unlock()
}
