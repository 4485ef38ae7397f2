// Package registry owns the authoritative set of live connections.
//
// The Registry maps connection IDs to entries holding the transport handle,
// lifecycle state, and activity timestamp. Removal synchronously detaches the
// connection from every room before returning, which is what keeps room
// membership free of dead connections. The HeartbeatMonitor drives
// liveness-based removal on its own ticker.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
)

// Detacher removes a connection from every room it belongs to. Implemented
// by the room manager; wired once at startup.
type Detacher interface {
	DetachAll(connID uuid.UUID)
}

// RemovalListener observes connection removals after detachment completed.
type RemovalListener func(connID uuid.UUID, reason domain.CloseReason)

// ConnectionInfo is a point-in-time view of one registry entry.
type ConnectionInfo struct {
	ID             uuid.UUID
	State          domain.ConnState
	OpenedAt       time.Time
	LastActivityAt time.Time
}

type entry struct {
	id        uuid.UUID
	transport domain.Transport
	state     domain.ConnState
	openedAt  time.Time

	// UnixNano of the last inbound activity. Outbound writes deliberately
	// do not count: a dead peer can be written to until TCP gives up, and
	// the heartbeat probe itself must not reset the silence clock.
	// Atomic so Touch only needs the registry read lock.
	lastActivity atomic.Int64
}

// Registry is the connection table. One RWMutex guards both maps; the
// transport map exists so a second Register of the same handle is rejected.
type Registry struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	conns   map[uuid.UUID]*entry
	handles map[domain.Transport]uuid.UUID

	detacher  Detacher
	listeners []RemovalListener
}

// New creates an empty registry.
func New(clock clockwork.Clock) *Registry {
	return &Registry{
		clock:   clock,
		conns:   make(map[uuid.UUID]*entry),
		handles: make(map[domain.Transport]uuid.UUID),
	}
}

// SetDetacher wires the room manager in. Must be called before the first
// Remove; kept out of the constructor because rooms and registry reference
// each other through interfaces.
func (r *Registry) SetDetacher(d Detacher) {
	r.detacher = d
}

// OnRemoval registers a listener invoked after a connection is removed and
// detached. Listeners run on the removing goroutine and must not block.
func (r *Registry) OnRemoval(fn RemovalListener) {
	r.listeners = append(r.listeners, fn)
}

// Register adds a transport and returns its new connection ID. The entry
// passes through Connecting and lands in Open before Register returns.
// Registering a transport that already has a live entry fails with
// ErrDuplicateConnection.
func (r *Registry) Register(t domain.Transport) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[t]; ok {
		return uuid.Nil, fmt.Errorf("%w: held by connection %s", domain.ErrDuplicateConnection, existing)
	}

	now := r.clock.Now()
	e := &entry{
		id:        uuid.New(),
		transport: t,
		state:     domain.StateConnecting,
		openedAt:  now,
	}
	e.lastActivity.Store(now.UnixNano())
	e.state = domain.StateOpen

	r.conns[e.id] = e
	r.handles[t] = e.id

	metrics.ConnectionsCurrent.Set(float64(len(r.conns)))
	metrics.ConnectionsOpenedTotal.Inc()
	slog.Debug("connection registered", "connection_id", e.id, "connections", len(r.conns))

	return e.id, nil
}

// Touch refreshes the connection's activity timestamp. Unknown IDs are
// ignored: frames may still be in flight after a removal.
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.conns[id]; ok {
		e.lastActivity.Store(r.clock.Now().UnixNano())
	}
}

// Get returns a snapshot of the entry or ErrConnectionNotFound.
func (r *Registry) Get(id uuid.UUID) (ConnectionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return ConnectionInfo{}, domain.ErrConnectionNotFound
	}
	return r.info(e), nil
}

// Contains reports whether id is currently registered and open. Used by
// the room manager to validate joins.
func (r *Registry) Contains(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	return ok && e.state == domain.StateOpen
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot lists all current entries. The heartbeat scan and the admin API
// iterate this copy, never the live map.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, e := range r.conns {
		infos = append(infos, r.info(e))
	}
	return infos
}

func (r *Registry) info(e *entry) ConnectionInfo {
	return ConnectionInfo{
		ID:             e.id,
		State:          e.state,
		OpenedAt:       e.openedAt,
		LastActivityAt: time.Unix(0, e.lastActivity.Load()),
	}
}

// Send delivers an envelope to one connection. The transport reference is
// taken under the read lock but the write happens outside it, so a slow
// peer never stalls the registry. Sending to a connection that is being
// removed surfaces as a transport failure, which is how in-flight
// broadcasts learn about mid-flight closure.
func (r *Registry) Send(id uuid.UUID, env domain.Envelope) error {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return domain.ErrConnectionNotFound
	}

	if err := e.transport.Send(env); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrTransportFailure, err)
	}

	metrics.MessagesOutTotal.WithLabelValues(string(env.Type)).Inc()
	return nil
}

// Remove deletes the connection, synchronously detaches it from every room,
// closes the transport, and notifies removal listeners. Idempotent: removing
// an unknown or already-removed ID is a no-op.
func (r *Registry) Remove(id uuid.UUID, reason domain.CloseReason) {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.state = domain.StateClosing
	delete(r.conns, id)
	delete(r.handles, e.transport)
	remaining := len(r.conns)
	r.mu.Unlock()

	// Detachment must finish before Remove returns: after this call no room
	// holds the connection ID. The registry lock is already released, so the
	// room manager is free to take its own lock and call back into reads.
	if r.detacher != nil {
		r.detacher.DetachAll(id)
	}

	if err := e.transport.Close(); err != nil {
		slog.Debug("transport close failed", "connection_id", id, "error", err)
	}
	e.state = domain.StateClosed

	metrics.ConnectionsCurrent.Set(float64(remaining))
	metrics.ConnectionsRemovedTotal.WithLabelValues(string(reason)).Inc()
	metrics.ConnectionDuration.Observe(r.clock.Since(e.openedAt).Seconds())
	slog.Info("connection removed", "connection_id", id, "reason", reason, "connections", remaining)

	for _, fn := range r.listeners {
		fn(id, reason)
	}
}

// Shutdown removes every connection with the shutdown reason. Used on
// graceful server stop.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, info := range r.Snapshot() {
		select {
		case <-ctx.Done():
			slog.Warn("registry shutdown cut short", "remaining", r.Len())
			return
		default:
		}
		r.Remove(info.ID, domain.CloseShutdown)
	}
}
