package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCounter int

func (c staticCounter) Len() int { return int(c) }

func TestInstanceRegistry_RegisterAndList(t *testing.T) {
	rdb := setupTestClient(t)
	ctx := context.Background()
	clock := clockwork.NewRealClock()

	regA := NewInstanceRegistry(rdb, clock, "instance-a", "1.2.3", time.Minute, staticCounter(7))
	regB := NewInstanceRegistry(rdb, clock, "instance-b", "1.2.3", time.Minute, nil)

	regA.register(ctx)
	regB.register(ctx)

	active, err := regA.ActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	byID := make(map[string]InstanceInfo, len(active))
	for _, info := range active {
		byID[info.InstanceID] = info
	}
	assert.Equal(t, 7, byID["instance-a"].Connections)
	assert.Equal(t, "1.2.3", byID["instance-a"].Version)
	assert.Equal(t, 0, byID["instance-b"].Connections)
}

func TestInstanceRegistry_FiltersStaleInstances(t *testing.T) {
	rdb := setupTestClient(t)
	ctx := context.Background()

	// A fake clock far in the future makes the freshly written entry of
	// the second registry look ancient.
	now := time.Now()
	fresh := NewInstanceRegistry(rdb, clockwork.NewFakeClockAt(now), "instance-fresh", "1.0.0", time.Minute, nil)
	stale := NewInstanceRegistry(rdb, clockwork.NewFakeClockAt(now.Add(-2*instanceStaleness)), "instance-stale", "1.0.0", time.Minute, nil)

	fresh.register(ctx)
	stale.register(ctx)

	active, err := fresh.ActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "instance-fresh", active[0].InstanceID)
}

func TestInstanceRegistry_UnregistersOnShutdown(t *testing.T) {
	rdb := setupTestClient(t)
	clock := clockwork.NewFakeClock()

	reg := NewInstanceRegistry(rdb, clock, "instance-a", "1.0.0", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Run(ctx)
	}()

	// Run registers immediately before entering the heartbeat loop.
	assert.Eventually(t, func() bool {
		n, err := rdb.HLen(context.Background(), instancesKey).Result()
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("registry did not stop after cancel")
	}

	n, err := rdb.HLen(context.Background(), instancesKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "instance entry should be removed on shutdown")
}
