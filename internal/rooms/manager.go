// Package rooms maps room IDs to member connections and fans out messages.
//
// One mutex owns both directions of the membership relation (room to
// members, connection to rooms), so a join can never interleave with a
// detach of the same connection. Rooms are created on first join and
// deleted when the last member leaves; there is no background sweep.
package rooms

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
)

// Registry is the slice of the connection registry the room manager needs:
// join validation and per-member delivery.
type Registry interface {
	Contains(connID uuid.UUID) bool
	Send(connID uuid.UUID, env domain.Envelope) error
}

// DeliveryFailureHandler is told about members whose broadcast delivery
// failed, after the fan-out finished. Wired to connection removal.
type DeliveryFailureHandler func(connID uuid.UUID, err error)

// Manager owns room membership. Safe for concurrent use.
type Manager struct {
	registry Registry
	policies domain.PolicyResolver
	onFail   DeliveryFailureHandler

	mu     sync.Mutex
	rooms  map[string]map[uuid.UUID]struct{}
	byConn map[uuid.UUID]map[string]struct{}
}

// NewManager creates an empty room manager over the given registry view.
func NewManager(registry Registry) *Manager {
	return &Manager{
		registry: registry,
		rooms:    make(map[string]map[uuid.UUID]struct{}),
		byConn:   make(map[uuid.UUID]map[string]struct{}),
	}
}

// SetPolicyResolver wires room policy enforcement into joins. Without a
// resolver every room is unlimited.
func (m *Manager) SetPolicyResolver(r domain.PolicyResolver) {
	m.policies = r
}

// SetDeliveryFailureHandler wires broadcast failures back into connection
// removal. The handler runs outside the membership lock.
func (m *Manager) SetDeliveryFailureHandler(fn DeliveryFailureHandler) {
	m.onFail = fn
}

// Join adds the connection to the room, creating the room on first join.
// Idempotent: joining a room twice is a no-op. Joining with an unknown or
// closed connection fails with ErrConnectionNotFound; a full room fails
// with ErrRoomFull.
func (m *Manager) Join(ctx context.Context, roomID string, connID uuid.UUID) error {
	// Policy resolution does I/O, so it happens before the lock. The
	// member-count check against the resolved limit is atomic below.
	maxMembers := 0
	if m.policies != nil {
		policy, err := m.policies.ResolvePolicy(ctx, roomID)
		switch {
		case err == nil:
			maxMembers = policy.MaxMembers
		case errors.Is(err, domain.ErrPolicyNotFound):
			// No policy stored: unlimited.
		default:
			// Policy backends are optional infrastructure; an outage must
			// not take joins down with it.
			slog.Warn("policy resolution failed, joining without limit", "room_id", roomID, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registry != nil && !m.registry.Contains(connID) {
		return domain.ErrConnectionNotFound
	}

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		m.rooms[roomID] = members
		metrics.RoomsCurrent.Set(float64(len(m.rooms)))
		slog.Info("room created", "room_id", roomID)
	}

	if _, already := members[connID]; already {
		metrics.RoomJoinsTotal.WithLabelValues("already_member").Inc()
		return nil
	}

	if maxMembers > 0 && len(members) >= maxMembers {
		if len(members) == 0 {
			m.deleteRoomLocked(roomID)
		}
		metrics.RoomJoinsTotal.WithLabelValues("room_full").Inc()
		return domain.ErrRoomFull
	}

	members[connID] = struct{}{}
	subs, ok := m.byConn[connID]
	if !ok {
		subs = make(map[string]struct{})
		m.byConn[connID] = subs
	}
	subs[roomID] = struct{}{}

	metrics.RoomJoinsTotal.WithLabelValues("joined").Inc()
	slog.Debug("connection joined room", "room_id", roomID, "connection_id", connID, "members", len(members))
	return nil
}

// Leave removes the connection from the room. Idempotent: leaving a room
// the connection is not in, or a room that does not exist, is a no-op.
// The room is deleted when its last member leaves.
func (m *Manager) Leave(roomID string, connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(roomID, connID)
}

// DetachAll removes the connection from every room it belongs to. Called
// by the registry during removal; safe when the connection is in no rooms.
func (m *Manager) DetachAll(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for roomID := range m.byConn[connID] {
		m.leaveLocked(roomID, connID)
	}
}

func (m *Manager) leaveLocked(roomID string, connID uuid.UUID) {
	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	if _, member := members[connID]; !member {
		return
	}

	delete(members, connID)
	metrics.RoomLeavesTotal.Inc()

	if subs, ok := m.byConn[connID]; ok {
		delete(subs, roomID)
		if len(subs) == 0 {
			delete(m.byConn, connID)
		}
	}

	if len(members) == 0 {
		m.deleteRoomLocked(roomID)
	}
}

func (m *Manager) deleteRoomLocked(roomID string) {
	delete(m.rooms, roomID)
	metrics.RoomsCurrent.Set(float64(len(m.rooms)))
	metrics.RoomsDeletedTotal.Inc()
	slog.Info("room deleted", "room_id", roomID)
}

// Broadcast delivers the envelope to every member of the room except
// exclude (uuid.Nil excludes nobody). Membership is snapshotted once at
// call time: joins during the fan-out do not receive the message, leaves
// surface as delivery failures at worst. A failing member never aborts
// delivery to the rest; failures are handed to the failure handler after
// the loop. Returns the number of successful deliveries.
func (m *Manager) Broadcast(ctx context.Context, roomID string, env domain.Envelope, exclude uuid.UUID) (int, error) {
	m.mu.Lock()
	members, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return 0, domain.ErrRoomNotFound
	}
	targets := make([]uuid.UUID, 0, len(members))
	for id := range members {
		if id == exclude {
			continue
		}
		targets = append(targets, id)
	}
	m.mu.Unlock()

	type failure struct {
		connID uuid.UUID
		err    error
	}

	delivered := 0
	var failures []failure

	for _, id := range targets {
		if err := m.registry.Send(id, env); err != nil {
			metrics.BroadcastDeliveryFailures.Inc()
			slog.WarnContext(ctx, "broadcast delivery failed", "room_id", roomID, "connection_id", id, "error", err)
			failures = append(failures, failure{connID: id, err: err})
			continue
		}
		delivered++
	}

	metrics.BroadcastsTotal.Inc()

	if m.onFail != nil {
		for _, f := range failures {
			m.onFail(f.connID, f.err)
		}
	}

	return delivered, nil
}

// Members returns a snapshot of the room's member IDs, or nil if the room
// does not exist.
func (m *Manager) Members(roomID string) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RoomsOf returns the rooms the connection currently belongs to.
func (m *Manager) RoomsOf(connID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.byConn[connID]
	rooms := make([]string, 0, len(subs))
	for roomID := range subs {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// List returns every non-empty room with its member count.
func (m *Manager) List() []domain.RoomInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]domain.RoomInfo, 0, len(m.rooms))
	for roomID, members := range m.rooms {
		infos = append(infos, domain.RoomInfo{RoomID: roomID, Members: len(members)})
	}
	return infos
}

// Len returns the number of non-empty rooms.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
