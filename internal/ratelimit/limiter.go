// Package ratelimit implements the per-connection fixed-window message limiter.
//
// One window per key: the count resets when the window elapses, denied calls
// never mutate state. Keys default to connection IDs; the router owns the
// key derivation.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/roomcast/internal/metrics"
)

type rateWindow struct {
	windowStart time.Time
	count       int
}

// Limiter enforces a fixed window of at most limit messages per window
// duration for each key. Safe for concurrent use.
type Limiter struct {
	clock  clockwork.Clock
	limit  int
	window time.Duration

	mu   sync.Mutex
	keys map[string]*rateWindow
}

// NewLimiter creates a limiter allowing limit messages per window.
func NewLimiter(clock clockwork.Clock, limit int, window time.Duration) *Limiter {
	return &Limiter{
		clock:  clock,
		limit:  limit,
		window: window,
		keys:   make(map[string]*rateWindow),
	}
}

// Allow reports whether one more message fits the key's current window and
// consumes a slot if so. A call landing exactly on the window boundary
// belongs to the new window. Denials are side-effect-free.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	w, ok := l.keys[key]
	if !ok {
		w = &rateWindow{windowStart: now}
		l.keys[key] = w
		metrics.RateLimitTrackedKeys.Set(float64(len(l.keys)))
	}

	if !now.Before(w.windowStart.Add(l.window)) {
		w.windowStart = now
		w.count = 0
	}

	if w.count < l.limit {
		w.count++
		return true
	}

	metrics.RateLimitDenialsTotal.Inc()
	return false
}

// Forget drops the window held for key. Called on connection removal so
// the map shrinks with the registry.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.keys[key]; ok {
		delete(l.keys, key)
		metrics.RateLimitTrackedKeys.Set(float64(len(l.keys)))
	}
}

// Sweep removes every window that already expired. Safe to run on any
// cadence; an active key is recreated on its next Allow.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0

	for key, w := range l.keys {
		if !now.Before(w.windowStart.Add(l.window)) {
			delete(l.keys, key)
			removed++
		}
	}

	if removed > 0 {
		metrics.RateLimitTrackedKeys.Set(float64(len(l.keys)))
	}
	return removed
}

// TrackedKeys returns the number of windows currently held.
func (l *Limiter) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
