package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tripBreaker(t *testing.T, hook *CircuitBreakerHook) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < breakerMinRequests; i++ {
		processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
			return errors.New("connection refused")
		})
		_ = processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	}
	require.Equal(t, gobreaker.StateOpen, hook.GetState())
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook()

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
			return nil
		})
		err := processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
		assert.NoError(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
	counts := hook.GetCounts()
	assert.Equal(t, uint32(10), counts.Requests)
	assert.Equal(t, uint32(10), counts.TotalSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)
}

func TestCircuitBreakerHook_TransientFailuresStayClosed(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	// Two failures are below the five-request threshold.
	for i := 0; i < 2; i++ {
		processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
			return errors.New("connection refused")
		})
		err := processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
}

func TestCircuitBreakerHook_MissingKeyIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	// A redis.Nil miss repeated past the threshold must not trip the
	// breaker.
	for i := 0; i < 10; i++ {
		processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
			cmd.SetErr(goredis.Nil)
			return goredis.Nil
		})
		err := processHook(ctx, goredis.NewStringCmd(ctx, "get", "missing"))
		assert.ErrorIs(t, err, goredis.Nil)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
	counts := hook.GetCounts()
	assert.Equal(t, uint32(0), counts.TotalFailures)
}

func TestCircuitBreakerHook_OpensAfterSustainedFailures(t *testing.T) {
	hook := NewCircuitBreakerHook()
	tripBreaker(t, hook)
}

func TestCircuitBreakerHook_FailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook()
	tripBreaker(t, hook)

	called := false
	processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		called = true
		return nil
	})

	ctx := context.Background()
	err := processHook(ctx, goredis.NewStringCmd(ctx, "set", "key", "value"))

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called, "redis should not be called when the circuit is open")
}

func TestCircuitBreakerHook_PipelineFailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook()
	tripBreaker(t, hook)

	ctx := context.Background()
	pipelineHook := hook.ProcessPipelineHook(func(ctx context.Context, cmds []goredis.Cmder) error {
		t.Fatal("redis pipeline should not be called")
		return nil
	})

	cmds := []goredis.Cmder{
		goredis.NewStringCmd(ctx, "get", "key1"),
		goredis.NewStringCmd(ctx, "get", "key2"),
	}
	err := pipelineHook(ctx, cmds)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func newFastRecoveryHook() *CircuitBreakerHook {
	return &CircuitBreakerHook{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "redis-test",
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     50 * time.Millisecond,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
			},
		}),
	}
}

func TestCircuitBreakerHook_RecoversToHalfOpen(t *testing.T) {
	hook := newFastRecoveryHook()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
			return errors.New("connection refused")
		})
		_ = processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	}
	require.Equal(t, gobreaker.StateOpen, hook.GetState())

	time.Sleep(100 * time.Millisecond)

	processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return nil
	})
	err := processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	assert.NoError(t, err)
	assert.Equal(t, gobreaker.StateHalfOpen, hook.GetState())
}

func TestCircuitBreakerHook_ClosesAfterSuccessfulRecovery(t *testing.T) {
	hook := newFastRecoveryHook()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
			return errors.New("connection refused")
		})
		_ = processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	}
	require.Equal(t, gobreaker.StateOpen, hook.GetState())

	time.Sleep(100 * time.Millisecond)

	// Two successful probes (MaxRequests) close the circuit again.
	for i := 0; i < 2; i++ {
		processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
			return nil
		})
		err := processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
		require.NoError(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
}

func TestStateToFloat(t *testing.T) {
	tests := []struct {
		state    gobreaker.State
		expected float64
	}{
		{gobreaker.StateClosed, 0},
		{gobreaker.StateHalfOpen, 1},
		{gobreaker.StateOpen, 2},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, stateToFloat(tt.state))
		})
	}
}
