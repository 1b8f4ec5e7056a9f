package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avelis/socialmesh/internal/observability"
)

// scanBatchSize bounds each SCAN round trip during pattern deletion.
const scanBatchSize = 100

// redisCache implements Cache on the shared Redis instance.
type redisCache struct {
	logger observability.Logger
	client *redis.Client
	prefix string
}

// RedisOption is a functional option for the Redis cache.
type RedisOption func(*redisCache)

// WithKeyPrefix namespaces every key the cache touches. Pattern
// deletion stays inside the namespace as well.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisCache) {
		c.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) RedisOption {
	return func(c *redisCache) {
		c.logger = logger
	}
}

// NewRedis creates a Redis-backed cache around an existing client.
// The caller owns the client lifecycle unless Close is used.
func NewRedis(client *redis.Client, opts ...RedisOption) Cache {
	c := &redisCache{
		logger: observability.NopLogger(),
		client: client,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value, mapping redis.Nil to ErrCacheMiss.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	observeOperation("get", start)

	if err == nil {
		hitsTotal.Inc()
		c.logger.Debug("cache hit",
			observability.String("key", key),
			observability.Int("size", len(value)))
		return value, nil
	}

	if errors.Is(err, redis.Nil) {
		missesTotal.Inc()
		return nil, ErrCacheMiss
	}

	errorsTotal.WithLabelValues("get").Inc()
	c.logger.Error("cache get failed",
		observability.String("key", key),
		observability.Error(err))
	return nil, fmt.Errorf("cache get %q: %w", key, err)
}

// Set stores a value with the given TTL.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	observeOperation("set", start)

	if err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		c.logger.Error("cache set failed",
			observability.String("key", key),
			observability.Error(err))
		return fmt.Errorf("cache set %q: %w", key, err)
	}

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl),
		observability.Int("size", len(value)))
	return nil
}

// Delete removes a single key.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.client.Del(ctx, c.prefix+key).Err()
	observeOperation("delete", start)

	if err != nil {
		errorsTotal.WithLabelValues("delete").Inc()
		c.logger.Error("cache delete failed",
			observability.String("key", key),
			observability.Error(err))
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

// DeletePattern scans for keys matching the pattern and deletes them in
// batches. SCAN is used instead of KEYS so large keyspaces cannot block
// the shared Redis instance.
func (c *redisCache) DeletePattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return ErrInvalidPattern
	}

	start := time.Now()
	defer observeOperation("delete_pattern", start)

	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+pattern, scanBatchSize).Result()
		if err != nil {
			errorsTotal.WithLabelValues("delete_pattern").Inc()
			c.logger.Error("cache scan failed",
				observability.String("pattern", pattern),
				observability.Error(err))
			return fmt.Errorf("cache scan %q: %w", pattern, err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				errorsTotal.WithLabelValues("delete_pattern").Inc()
				c.logger.Error("cache bulk delete failed",
					observability.String("pattern", pattern),
					observability.Error(err))
				return fmt.Errorf("cache delete pattern %q: %w", pattern, err)
			}
			deleted += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("cache pattern invalidated",
		observability.String("pattern", pattern),
		observability.Int("deleted", deleted))
	return nil
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	return c.client.Close()
}
