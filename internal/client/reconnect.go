package client

import (
	"time"
)

// State is the reconnection lifecycle of a client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateBackoff
	StateClosed  // user-initiated close, no reconnect
	StateGivenUp // maxAttempts consecutive failures
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// Event drives the reconnection state machine.
type Event int

const (
	EventDial      Event = iota // start or retry a connection attempt
	EventOpened                 // attempt succeeded
	EventFailed                 // attempt failed or open connection dropped
	EventClosed                 // explicit user close
	EventExhausted              // failure budget spent
)

// Transition is the pure state transition function. Closed and GivenUp are
// terminal; any event in a terminal state, and any pair not listed, keeps
// the current state.
func Transition(s State, ev Event) State {
	if s == StateClosed || s == StateGivenUp {
		return s
	}

	switch ev {
	case EventDial:
		if s == StateIdle || s == StateBackoff {
			return StateConnecting
		}
	case EventOpened:
		if s == StateConnecting {
			return StateOpen
		}
	case EventFailed:
		if s == StateConnecting || s == StateOpen {
			return StateBackoff
		}
	case EventClosed:
		return StateClosed
	case EventExhausted:
		if s == StateBackoff {
			return StateGivenUp
		}
	}
	return s
}

// BackoffPolicy computes reconnect delays: exponential doubling from
// BaseDelay capped at MaxDelay, perturbed by symmetric jitter.
type BackoffPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int     // 0 means retry forever
	JitterFraction float64 // ± fraction of the delay, e.g. 0.1
}

// Delay returns the pre-jitter delay for the given attempt (1-based):
// min(BaseDelay·2^(attempt−1), MaxDelay).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Jittered perturbs the attempt's delay by ±JitterFraction. rnd must be
// uniform in [0, 1); injected so tests are deterministic.
func (p BackoffPolicy) Jittered(attempt int, rnd float64) time.Duration {
	d := p.Delay(attempt)
	if p.JitterFraction <= 0 {
		return d
	}

	offset := (rnd*2 - 1) * p.JitterFraction * float64(d)
	return d + time.Duration(offset)
}

// Exhausted reports whether the failure budget is spent after the given
// number of consecutive failed attempts.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// ReconnectState is the bookkeeping behind the state machine: consecutive
// failure count, the delay before the next attempt, and the last error.
// Attempt resets to zero on every successful open.
type ReconnectState struct {
	Attempt   int
	NextDelay time.Duration
	LastError error
}

// Fail records one failed attempt and computes the next delay.
func (r *ReconnectState) Fail(p BackoffPolicy, err error, rnd float64) {
	r.Attempt++
	r.LastError = err
	r.NextDelay = p.Jittered(r.Attempt, rnd)
}

// Reset clears the failure streak after a successful open.
func (r *ReconnectState) Reset() {
	r.Attempt = 0
	r.NextDelay = 0
	r.LastError = nil
}
