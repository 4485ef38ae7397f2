package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
)

const (
	policyKeyPrefix    = "roomcast:policy:"
	defaultPolicyTTL   = 5 * time.Minute
	policyMemoryTTL    = 30 * time.Second
	policyEvictionTick = time.Minute
)

// PolicyCache is a two-level cache in front of the policy repository:
// a small in-memory layer for the hot path (joins into popular rooms)
// backed by Redis so instances share their lookups. Implements
// app.PolicyCache.
type PolicyCache struct {
	rdb   *goredis.Client
	clock clockwork.Clock
	ttl   time.Duration

	mu     sync.Mutex
	memory map[string]memoryEntry
}

type memoryEntry struct {
	policy    domain.RoomPolicy
	expiresAt time.Time
}

// NewPolicyCache creates the cache with the default Redis TTL.
func NewPolicyCache(rdb *goredis.Client, clock clockwork.Clock) *PolicyCache {
	return &PolicyCache{
		rdb:    rdb,
		clock:  clock,
		ttl:    defaultPolicyTTL,
		memory: make(map[string]memoryEntry),
	}
}

// Get returns the cached policy, or (nil, nil) when neither layer has it.
func (c *PolicyCache) Get(ctx context.Context, roomID string) (*domain.RoomPolicy, error) {
	c.mu.Lock()
	entry, ok := c.memory[roomID]
	if ok && c.clock.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		metrics.PolicyCacheHits.Inc()
		policy := entry.policy
		return &policy, nil
	}
	c.mu.Unlock()

	data, err := c.rdb.Get(ctx, policyKeyPrefix+roomID).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy cache: %w", err)
	}

	var policy domain.RoomPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		// A corrupt entry behaves like a miss and gets overwritten.
		slog.Warn("corrupt policy cache entry", "room_id", roomID, "error", err)
		return nil, nil
	}

	metrics.PolicyCacheRedisHits.Inc()
	c.storeMemory(policy)
	return &policy, nil
}

// Set stores the policy in both layers.
func (c *PolicyCache) Set(ctx context.Context, policy domain.RoomPolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if err := c.rdb.Set(ctx, policyKeyPrefix+policy.RoomID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write policy cache: %w", err)
	}

	c.storeMemory(policy)
	return nil
}

// Invalidate drops the entry from both layers.
func (c *PolicyCache) Invalidate(ctx context.Context, roomID string) error {
	c.mu.Lock()
	delete(c.memory, roomID)
	c.mu.Unlock()

	if err := c.rdb.Del(ctx, policyKeyPrefix+roomID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate policy cache: %w", err)
	}
	return nil
}

// RunEviction sweeps expired in-memory entries until ctx is cancelled.
// Redis handles its own expiry; this only bounds the L1 map.
func (c *PolicyCache) RunEviction(ctx context.Context) {
	ticker := c.clock.NewTicker(policyEvictionTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.evictExpired()
		}
	}
}

func (c *PolicyCache) evictExpired() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, entry := range c.memory {
		if !now.Before(entry.expiresAt) {
			delete(c.memory, roomID)
		}
	}
}

func (c *PolicyCache) storeMemory(policy domain.RoomPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[policy.RoomID] = memoryEntry{
		policy:    policy,
		expiresAt: c.clock.Now().Add(policyMemoryTTL),
	}
}
