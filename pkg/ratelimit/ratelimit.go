// Package ratelimit implements fixed-window request counting behind a small
// interface so the backing store can move from process memory to a shared
// Redis instance without touching callers.
package ratelimit

import (
	"context"
	"time"
)

// Policy is the quota applied to a single key.
type Policy struct {
	// Limit is the number of requests allowed per window.
	Limit int
	// Window is the length of each fixed window.
	Window time.Duration
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the instant the current window expires.
	Reset time.Time
}

// RetryAfter returns how long a rejected client should wait before retrying,
// relative to now. It never returns a negative duration.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.Reset.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter decides whether a request identified by key fits its policy.
type Limiter interface {
	Allow(ctx context.Context, key string, p Policy) (Decision, error)
}
