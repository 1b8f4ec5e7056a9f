// Package ratelimit provides distributed request quotas backed by the
// shared counter store. Counters are the single source of truth because
// the gateway is horizontally scaled; in-process state is only ever a
// fallback for store outages.
package ratelimit

import (
	"context"
	"net/http"
	"time"
)

// Limiter decides whether a request identified by a client key is within
// its allowed quota.
type Limiter interface {
	// Allow checks whether one request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is within quota.
	Allowed bool

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// RetryAfter is the duration to wait before retrying (when denied).
	RetryAfter time.Duration
}

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(r *http.Request) string

// ClientKey keys requests by API key when present, client address otherwise.
func ClientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "apikey:" + key
	}
	host := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		host = forwarded
	}
	return "ip:" + host
}

// NoopLimiter always allows requests.
type NoopLimiter struct{}

// Allow implements Limiter.
func (NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}
