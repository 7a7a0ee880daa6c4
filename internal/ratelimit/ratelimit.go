// Package ratelimit provides a pluggable rate limiting interface.
//
// Two callers share it: the guard package caps how often a single check may
// run a fresh evaluation, and the HTTP server caps requests per client IP.
// Both use the in-memory fixed window (WindowLimiter); the state is process
// local and rebuilt from empty on restart.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque; callers construct it (e.g. "check:content_safety").
	// Returning an error signals a limiter malfunction. The HTTP middleware
	// treats errors as fail-open; the guard package treats them as fail-closed.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
