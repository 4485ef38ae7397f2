package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	instancesKey      = "roomcast:instances"
	instanceStaleness = 60 * time.Second
)

// InstanceInfo describes one registered instance.
type InstanceInfo struct {
	InstanceID  string `json:"instance_id"`
	Timestamp   int64  `json:"timestamp"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
}

// ConnectionCounter reports the instance's live connection count for the
// heartbeat payload.
type ConnectionCounter interface {
	Len() int
}

// InstanceRegistry announces this instance in a shared Redis hash via
// periodic heartbeats. Instances silent for more than a minute are
// considered gone; the admin API lists the active ones.
type InstanceRegistry struct {
	rdb        *goredis.Client
	clock      clockwork.Clock
	instanceID string
	version    string
	heartbeat  time.Duration
	conns      ConnectionCounter
}

// NewInstanceRegistry creates a registry heartbeating every interval.
func NewInstanceRegistry(rdb *goredis.Client, clock clockwork.Clock, instanceID, version string, interval time.Duration, conns ConnectionCounter) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:        rdb,
		clock:      clock,
		instanceID: instanceID,
		version:    version,
		heartbeat:  interval,
		conns:      conns,
	}
}

// Run registers immediately, heartbeats on the interval, and unregisters
// when ctx is cancelled.
func (r *InstanceRegistry) Run(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *InstanceRegistry) register(ctx context.Context) {
	info := InstanceInfo{
		InstanceID: r.instanceID,
		Timestamp:  r.clock.Now().Unix(),
		Version:    r.version,
	}
	if r.conns != nil {
		info.Connections = r.conns.Len()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return
	}

	if err := r.rdb.HSet(ctx, instancesKey, r.instanceID, data).Err(); err != nil {
		slog.Warn("instance heartbeat failed", "instance_id", r.instanceID, "error", err)
	}
}

func (r *InstanceRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.rdb.HDel(ctx, instancesKey, r.instanceID).Err(); err != nil {
		slog.Warn("instance unregister failed", "instance_id", r.instanceID, "error", err)
	}
}

// ActiveInstances returns every instance with a heartbeat within the
// staleness window.
func (r *InstanceRegistry) ActiveInstances(ctx context.Context) ([]InstanceInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, err
	}

	cutoff := r.clock.Now().Add(-instanceStaleness).Unix()
	active := make([]InstanceInfo, 0, len(entries))

	for _, data := range entries {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if info.Timestamp >= cutoff {
			active = append(active, info)
		}
	}

	return active, nil
}
