package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
)

// Monitor removes connections that have gone silent. It scans the registry
// on a fixed interval and is the only component that removes connections
// for liveness reasons; transport-reported closures go through the adapter.
//
// With probing enabled, a quiet connection first receives a ping and gets
// one more timeout of grace before removal. Without probing it is removed
// at the first scan past the timeout.
type Monitor struct {
	clock    clockwork.Clock
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	probe    bool

	// Probe send times by connection. Only the Run goroutine touches this.
	pending map[uuid.UUID]time.Time
}

// NewMonitor creates a heartbeat monitor over the given registry.
func NewMonitor(clock clockwork.Clock, reg *Registry, interval, timeout time.Duration, probe bool) *Monitor {
	return &Monitor{
		clock:    clock,
		registry: reg,
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		pending:  make(map[uuid.UUID]time.Time),
	}
}

// Run starts the scan loop. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("heartbeat monitor started", "interval", m.interval, "timeout", m.timeout, "probe", m.probe)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.scan()
		}
	}
}

func (m *Monitor) scan() {
	now := m.clock.Now()
	seen := make(map[uuid.UUID]struct{})

	for _, conn := range m.registry.Snapshot() {
		seen[conn.ID] = struct{}{}

		// A connection mid-removal is skipped, never double-removed.
		if conn.State != domain.StateOpen {
			continue
		}

		silent := now.Sub(conn.LastActivityAt)
		if silent <= m.timeout {
			delete(m.pending, conn.ID)
			continue
		}

		if !m.probe {
			m.declareDead(conn.ID, silent)
			continue
		}

		probedAt, probed := m.pending[conn.ID]
		switch {
		case !probed:
			m.sendProbe(conn.ID, now)
		case now.Sub(probedAt) > m.timeout:
			delete(m.pending, conn.ID)
			m.declareDead(conn.ID, silent)
		}
	}

	// Drop probe state for connections that disappeared between scans.
	for id := range m.pending {
		if _, ok := seen[id]; !ok {
			delete(m.pending, id)
		}
	}
}

func (m *Monitor) sendProbe(id uuid.UUID, now time.Time) {
	env := domain.Envelope{Type: domain.MessagePing, Timestamp: now.UnixMilli()}
	if err := m.registry.Send(id, env); err != nil {
		// A probe that cannot be written means the transport is already
		// gone; no point granting grace.
		slog.Debug("heartbeat probe failed", "connection_id", id, "error", err)
		m.registry.Remove(id, domain.CloseTransport)
		return
	}

	m.pending[id] = now
	metrics.HeartbeatProbesTotal.Inc()
	slog.Debug("heartbeat probe sent", "connection_id", id)
}

func (m *Monitor) declareDead(id uuid.UUID, silent time.Duration) {
	slog.Info("connection exceeded heartbeat timeout", "connection_id", id, "silent", silent)
	metrics.HeartbeatRemovalsTotal.Inc()
	m.registry.Remove(id, domain.CloseHeartbeat)
}
