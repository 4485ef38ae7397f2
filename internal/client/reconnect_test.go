package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
		want  State
	}{
		{"idle dial", StateIdle, EventDial, StateConnecting},
		{"backoff dial", StateBackoff, EventDial, StateConnecting},
		{"connecting opened", StateConnecting, EventOpened, StateOpen},
		{"connecting failed", StateConnecting, EventFailed, StateBackoff},
		{"open failed", StateOpen, EventFailed, StateBackoff},
		{"backoff exhausted", StateBackoff, EventExhausted, StateGivenUp},
		{"open closed", StateOpen, EventClosed, StateClosed},
		{"backoff closed", StateBackoff, EventClosed, StateClosed},

		// Terminal states swallow everything.
		{"closed dial", StateClosed, EventDial, StateClosed},
		{"given up dial", StateGivenUp, EventDial, StateGivenUp},

		// Pairs that do not apply keep the state.
		{"idle opened", StateIdle, EventOpened, StateIdle},
		{"open dial", StateOpen, EventDial, StateOpen},
		{"open exhausted", StateOpen, EventExhausted, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.state, tt.event))
		})
	}
}

func TestBackoffPolicy_Ladder(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2000 * time.Millisecond, // capped
		2000 * time.Millisecond, // stays capped
	}
	for i, expected := range want {
		assert.Equal(t, expected, p.Delay(i+1), "attempt %d", i+1)
	}
}

func TestBackoffPolicy_DelayIsMonotonic(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 50 * time.Millisecond, MaxDelay: 10 * time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
}

func TestBackoffPolicy_Jittered(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 1 * time.Second, MaxDelay: 10 * time.Second, JitterFraction: 0.1}

	// rnd 0 shifts −10%, 0.5 leaves the delay untouched, 1 shifts +10%.
	assert.Equal(t, 900*time.Millisecond, p.Jittered(1, 0))
	assert.Equal(t, 1*time.Second, p.Jittered(1, 0.5))
	assert.Equal(t, 1100*time.Millisecond, p.Jittered(1, 1))
}

func TestBackoffPolicy_NoJitter(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 1 * time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, 1*time.Second, p.Jittered(1, 0.99))
}

func TestBackoffPolicy_Exhausted(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))

	forever := BackoffPolicy{}
	assert.False(t, forever.Exhausted(1000))
}

func TestReconnectState_FailAndReset(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
	cause := errors.New("connection refused")

	var st ReconnectState
	st.Fail(p, cause, 0.5)
	st.Fail(p, cause, 0.5)

	assert.Equal(t, 2, st.Attempt)
	assert.Equal(t, 200*time.Millisecond, st.NextDelay)
	assert.Equal(t, cause, st.LastError)

	st.Reset()
	assert.Zero(t, st.Attempt)
	assert.Zero(t, st.NextDelay)
	assert.NoError(t, st.LastError)
}
