// Package server runs a per-connection watchdog that detects idle peers and
// evicts the unresponsive ones.
package server

import (
	"log/slog"
	"time"
)

// runHeartbeat watches one connection for its lifetime. Every interval it
// compares the connection's last inbound activity against the idle threshold
// and probes idle peers with a ping control frame. A probe send failure is
// proof of death and forces a disconnect. A successful probe records only
// lastPing: lastActivity moves on genuine inbound traffic or an acknowledged
// pong, so a one-way send can never make a dead peer look alive.
//
// The monitor terminates when the connection leaves the registry, when its
// receive loop exits, or on hub shutdown.
func (h *Hub) runHeartbeat(c *Connection) {
	cfg := currentConfig()
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if !h.registry.Contains(c.ID()) {
				return
			}

			idle := time.Since(c.LastActivity())
			if idle <= cfg.IdleTimeout {
				continue
			}

			h.registry.MarkInactive(c.ID())
			slog.Debug("connection idle, probing", "id", c.ID(), "idle", idle)

			if err := c.probe(); err != nil {
				slog.Warn("heartbeat probe failed, disconnecting",
					"id", c.ID(), "addr", c.Addr(), "idle", idle, "error", err)
				h.teardown(c, "heartbeat_timeout")
				return
			}
		}
	}
}
