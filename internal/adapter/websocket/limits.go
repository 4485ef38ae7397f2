package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RejectReason says why an accept was refused. Carried on the
// connections_rejected_total metric.
type RejectReason string

const (
	RejectGlobalLimit RejectReason = "global_limit"
	RejectIPRate      RejectReason = "ip_rate"
)

const (
	limiterCleanupEvery = 5 * time.Minute
	limiterIdleExpiry   = 10 * time.Minute
)

// AcceptLimits guards the upgrade endpoint: a global cap on concurrent
// connections per instance plus a token-bucket rate of new connections
// per source IP.
type AcceptLimits struct {
	max     int64
	current atomic.Int64

	ipRate  rate.Limit
	ipBurst int

	mu        sync.Mutex
	buckets   map[string]*bucketEntry
	cleanupAt time.Time
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAcceptLimits creates accept limits with the given global cap and
// per-IP connection rate.
func NewAcceptLimits(maxConnections int64, perIPRate float64, perIPBurst int) *AcceptLimits {
	return &AcceptLimits{
		max:       maxConnections,
		ipRate:    rate.Limit(perIPRate),
		ipBurst:   perIPBurst,
		buckets:   make(map[string]*bucketEntry),
		cleanupAt: time.Now().Add(limiterCleanupEvery),
	}
}

// Acquire claims one accept slot for ip. On refusal nothing is held and
// the reason names the limit that was hit. Every successful Acquire must
// be paired with exactly one Release.
func (l *AcceptLimits) Acquire(ip string) (bool, RejectReason) {
	// Rate first: a refused token must not consume a global slot.
	if !l.allowIP(ip) {
		return false, RejectIPRate
	}

	for {
		current := l.current.Load()
		if current >= l.max {
			return false, RejectGlobalLimit
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true, ""
		}
	}
}

// Release returns a previously acquired slot.
func (l *AcceptLimits) Release() {
	l.current.Add(-1)
}

// Current returns the number of held slots.
func (l *AcceptLimits) Current() int64 {
	return l.current.Load()
}

func (l *AcceptLimits) allowIP(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-limiterIdleExpiry)
		for key, entry := range l.buckets {
			if entry.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.cleanupAt = now.Add(limiterCleanupEvery)
	}

	entry, ok := l.buckets[ip]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.buckets[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter.Allow()
}

// TrackedIPs returns the number of per-IP buckets currently held.
func (l *AcceptLimits) TrackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
