package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientEntry holds a per-client limiter and its last access time.
type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is an in-process token bucket limiter keyed per client.
// It exists as the fallback for counter-store outages and for tests; it
// cannot coordinate across gateway instances.
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	rate    rate.Limit
	burst   int
	limit   int
	idleTTL time.Duration
	now     func() time.Time
}

// NewMemoryLimiter creates a local limiter approximating requests per window.
func NewMemoryLimiter(requests int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		clients: make(map[string]*clientEntry),
		rate:    rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		limit:   requests,
		idleTTL: 3 * window,
		now:     time.Now,
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()

	l.mu.Lock()
	entry, ok := l.clients[key]
	if !ok {
		l.purgeIdleLocked(now)
		entry = &clientEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	limiter := entry.limiter
	l.mu.Unlock()

	allowed := limiter.Allow()
	result := &Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: int(limiter.Tokens()),
	}
	if !allowed {
		result.RetryAfter = time.Second
	}
	return result, nil
}

// purgeIdleLocked drops clients not seen within the idle TTL.
// Called with the mutex held, on the new-client path only.
func (l *MemoryLimiter) purgeIdleLocked(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.clients, key)
		}
	}
}
