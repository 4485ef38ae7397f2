// Package app holds the application service sitting between transport
// adapters and the core: room policy resolution and administration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
)

// PolicyCache sits in front of the policy repository. Get returns
// ErrPolicyNotFound for a cached miss and a nil policy when the cache has
// no answer at all.
type PolicyCache interface {
	Get(ctx context.Context, roomID string) (*domain.RoomPolicy, error)
	Set(ctx context.Context, policy domain.RoomPolicy) error
	Invalidate(ctx context.Context, roomID string) error
}

// Service resolves and administers room policies. With a nil repository it
// degrades to policy-free operation: every room is unlimited. Implements
// domain.PolicyResolver.
type Service struct {
	repo  domain.PolicyRepository
	cache PolicyCache

	// Collapses concurrent resolutions of the same room, so a join storm
	// into one room costs a single repository query.
	resolveGroup singleflight.Group
}

// NewService creates the service. repo and cache may each be nil.
func NewService(repo domain.PolicyRepository, cache PolicyCache) *Service {
	return &Service{repo: repo, cache: cache}
}

// ResolvePolicy returns the effective policy for a room, or
// ErrPolicyNotFound when none is stored.
func (s *Service) ResolvePolicy(ctx context.Context, roomID string) (domain.RoomPolicy, error) {
	if s.repo == nil {
		return domain.RoomPolicy{}, domain.ErrPolicyNotFound
	}

	v, err, _ := s.resolveGroup.Do(roomID, func() (any, error) {
		return s.lookup(ctx, roomID)
	})
	if err != nil {
		return domain.RoomPolicy{}, err
	}
	return v.(domain.RoomPolicy), nil
}

func (s *Service) lookup(ctx context.Context, roomID string) (domain.RoomPolicy, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, roomID)
		switch {
		case err == nil && cached != nil:
			return *cached, nil
		case errors.Is(err, domain.ErrPolicyNotFound):
			return domain.RoomPolicy{}, domain.ErrPolicyNotFound
		case err != nil:
			slog.Warn("policy cache lookup failed", "room_id", roomID, "error", err)
		}
	}

	policy, err := s.repo.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			return domain.RoomPolicy{}, domain.ErrPolicyNotFound
		}
		return domain.RoomPolicy{}, fmt.Errorf("failed to load room policy: %w", err)
	}

	metrics.PolicyCachePostgresHits.Inc()
	if s.cache != nil {
		if err := s.cache.Set(ctx, *policy); err != nil {
			slog.Warn("policy cache store failed", "room_id", roomID, "error", err)
		}
	}
	return *policy, nil
}

// SetPolicy upserts a room's policy and invalidates the cache entry.
func (s *Service) SetPolicy(ctx context.Context, roomID string, maxMembers int) (*domain.RoomPolicy, error) {
	if s.repo == nil {
		return nil, domain.ErrPolicyNotFound
	}
	if maxMembers < 0 {
		return nil, fmt.Errorf("max members must not be negative, got %d", maxMembers)
	}

	policy, err := s.repo.Upsert(ctx, roomID, maxMembers)
	if err != nil {
		return nil, fmt.Errorf("failed to store room policy: %w", err)
	}

	s.invalidate(ctx, roomID)
	slog.Info("room policy updated", "room_id", roomID, "max_members", maxMembers)
	return policy, nil
}

// RemovePolicy deletes a room's policy. Removing a policy that does not
// exist is a no-op.
func (s *Service) RemovePolicy(ctx context.Context, roomID string) error {
	if s.repo == nil {
		return nil
	}

	if err := s.repo.Delete(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete room policy: %w", err)
	}

	s.invalidate(ctx, roomID)
	slog.Info("room policy removed", "room_id", roomID)
	return nil
}

// ListPolicies returns every stored policy.
func (s *Service) ListPolicies(ctx context.Context) ([]domain.RoomPolicy, error) {
	if s.repo == nil {
		return nil, nil
	}

	policies, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list room policies: %w", err)
	}
	return policies, nil
}

func (s *Service) invalidate(ctx context.Context, roomID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, roomID); err != nil {
		slog.Warn("policy cache invalidation failed", "room_id", roomID, "error", err)
	}
}
