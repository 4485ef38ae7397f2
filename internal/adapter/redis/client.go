// Package redis holds the optional Redis-backed infrastructure: the
// cross-instance fan-out bridge, the instance registry, and the room
// policy cache. All of it degrades gracefully: without a Redis URL the
// core runs single-instance and cache-free.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient creates a go-redis client from a URL
// (e.g. "redis://localhost:6379"), installs the circuit breaker hook, and
// verifies connectivity with a ping.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewCircuitBreakerHook())

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return rdb, nil
}
