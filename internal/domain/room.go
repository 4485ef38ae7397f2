package domain

import (
	"context"
	"time"
)

// RoomPolicy bounds a room's membership. MaxMembers of zero means unlimited.
type RoomPolicy struct {
	RoomID     string    `json:"room_id"`
	MaxMembers int       `json:"max_members"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoomInfo is a read model row for the admin API.
type RoomInfo struct {
	RoomID  string `json:"roomId"`
	Members int    `json:"members"`
}

// PolicyRepository persists room policies.
type PolicyRepository interface {
	GetByRoomID(ctx context.Context, roomID string) (*RoomPolicy, error)
	Upsert(ctx context.Context, roomID string, maxMembers int) (*RoomPolicy, error)
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]RoomPolicy, error)
}

// PolicyResolver yields the effective policy for a room at join time.
// Implementations sit in front of PolicyRepository with caching.
type PolicyResolver interface {
	ResolvePolicy(ctx context.Context, roomID string) (RoomPolicy, error)
}

// EventPublisher relays room traffic to infrastructure, typically the
// cross-instance bridge. A nil publisher keeps fan-out local.
type EventPublisher interface {
	PublishRoomMessage(ctx context.Context, roomID string, env Envelope) error
}
