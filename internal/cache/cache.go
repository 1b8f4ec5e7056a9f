// Package cache provides the cache-aside layer shared by the services.
// The cache is an availability optimization, never a source of truth:
// callers treat every cache error as a miss and fall through to storage.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidPattern indicates that a deletion pattern is malformed.
	ErrInvalidPattern = errors.New("invalid key pattern")
)

// Cache is the interface for the cache-aside store.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns ErrCacheMiss if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the given TTL.
	// A TTL of 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key from the cache. Deleting an absent
	// key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key matching a glob-style pattern,
	// e.g. "posts:*". Matching zero keys is not an error.
	DeletePattern(ctx context.Context, pattern string) error

	// Close closes the cache connection.
	Close() error
}
