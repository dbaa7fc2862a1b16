// Package ratelimit provides admission control for outbound inference calls:
// a bound on concurrent calls in flight plus a sliding-window cap on call
// starts per minute.
//
// A single Limiter instance is shared by every caller with the same quota.
// Construct one explicitly and inject it — there is no package-level
// singleton. If several independent quotas are ever needed, construct
// several limiters.
package ratelimit

import (
	"context"
	"errors"
)

// ErrAcquireTimeout is returned when an Acquire could not be admitted before
// its context expired. Callers treat this as a retryable attempt failure,
// not a fatal error.
var ErrAcquireTimeout = errors.New("ratelimit: acquire timed out")

// Limiter admits outbound calls. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Acquire blocks until both a concurrency permit and a rate-window slot
	// are available, or until ctx expires. On success the caller holds one
	// concurrency permit and must call Release exactly once. The rate-window
	// slot is consumed at admission and expires on its own.
	Acquire(ctx context.Context) error

	// Release returns the concurrency permit taken by a successful Acquire.
	Release()
}

// NoopLimiter admits every call immediately. Used when throttling is disabled.
type NoopLimiter struct{}

// Acquire always succeeds.
func (NoopLimiter) Acquire(context.Context) error { return nil }

// Release is a no-op.
func (NoopLimiter) Release() {}
