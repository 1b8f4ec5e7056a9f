package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avelis/socialmesh/internal/observability"
)

// fixedWindowScript atomically increments the window counter and arms its
// expiry on first hit. Returns {count, remaining ttl in ms}.
var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	return {count, ttl}
`)

// defaultOpTimeout bounds each counter-store round trip so a slow store
// cannot stall the request path.
const defaultOpTimeout = 500 * time.Millisecond

// RedisLimiter implements fixed-window rate limiting against the shared
// counter store. Counters are keyed by (client key, window id) and expire
// with the window, so state never needs explicit cleanup.
type RedisLimiter struct {
	client    *redis.Client
	prefix    string
	requests  int
	window    time.Duration
	opTimeout time.Duration
	logger    observability.Logger
}

// RedisLimiterOption is a functional option for the Redis limiter.
type RedisLimiterOption func(*RedisLimiter)

// WithPrefix sets the counter key prefix.
func WithPrefix(prefix string) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.logger = logger
	}
}

// WithOpTimeout overrides the per-operation store timeout.
func WithOpTimeout(d time.Duration) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.opTimeout = d
	}
}

// NewRedisLimiter creates a fixed-window limiter allowing requests per window.
func NewRedisLimiter(client *redis.Client, requests int, window time.Duration, opts ...RedisLimiterOption) *RedisLimiter {
	l := &RedisLimiter{
		client:    client,
		prefix:    "ratelimit:",
		requests:  requests,
		window:    window,
		opTimeout: defaultOpTimeout,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	windowMs := l.window.Milliseconds()
	windowID := time.Now().UnixMilli() / windowMs
	counterKey := fmt.Sprintf("%s%s:%d", l.prefix, key, windowID)

	raw, err := fixedWindowScript.Run(ctx, l.client, []string{counterKey}, windowMs).Result()
	if err != nil {
		checksTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("fixed window script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		checksTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("unexpected script result: %v", raw)
	}

	count, _ := values[0].(int64)
	ttlMs, _ := values[1].(int64)
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	allowed := count <= int64(l.requests)
	remaining := l.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     l.requests,
		Remaining: remaining,
	}
	if allowed {
		checksTotal.WithLabelValues(outcomeAllowed).Inc()
	} else {
		result.RetryAfter = time.Duration(ttlMs) * time.Millisecond
		checksTotal.WithLabelValues(outcomeLimited).Inc()
	}
	return result, nil
}

// FailoverLimiter wraps a primary limiter with an in-process fallback.
// Counter-store errors are logged and the decision falls back to local
// state instead of failing the request, preserving the permissive policy
// of the store-backed path.
type FailoverLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   observability.Logger
}

// NewFailoverLimiter creates a limiter that degrades to fallback on
// primary errors. A nil fallback fails open.
func NewFailoverLimiter(primary, fallback Limiter, logger observability.Logger) *FailoverLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FailoverLimiter{primary: primary, fallback: fallback, logger: logger}
}

// Allow implements Limiter.
func (l *FailoverLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	result, err := l.primary.Allow(ctx, key)
	if err == nil {
		return result, nil
	}

	storeErrorsTotal.Inc()
	l.logger.Warn("counter store unavailable, using local fallback",
		observability.String("key", key),
		observability.Error(err),
	)

	if l.fallback == nil {
		return &Result{Allowed: true}, nil
	}
	return l.fallback.Allow(ctx, key)
}
