package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// window is the trailing interval over which call starts are counted.
const window = time.Minute

// SlidingLimiter combines a weighted semaphore bounding concurrent calls with
// a trailing-window count of call starts per minute. Both limits must admit a
// caller before Acquire returns.
type SlidingLimiter struct {
	sem         *semaphore.Weighted
	perMinute   int
	outstanding atomic.Int64

	mu     sync.Mutex
	starts []time.Time // admission timestamps inside the trailing window, oldest first

	// now is swapped in tests to control the clock.
	now func() time.Time
}

// NewSlidingLimiter creates a limiter admitting at most maxConcurrent calls
// in flight and at most perMinute call starts in any trailing 60s window.
// Non-positive limits are clamped to 1.
func NewSlidingLimiter(maxConcurrent, perMinute int) *SlidingLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if perMinute <= 0 {
		perMinute = 1
	}
	return &SlidingLimiter{
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		perMinute: perMinute,
		now:       time.Now,
	}
}

// Acquire blocks for a concurrency permit first, then for a rate-window slot.
// If ctx expires during either wait, the permit is returned and
// ErrAcquireTimeout is reported.
func (l *SlidingLimiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ErrAcquireTimeout
	}

	for {
		wait, ok := l.tryReserveSlot()
		if ok {
			l.outstanding.Add(1)
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.sem.Release(1)
			return ErrAcquireTimeout
		case <-timer.C:
		}
	}
}

// tryReserveSlot records a call start if the trailing window has room.
// Otherwise it returns how long until the oldest recorded start leaves
// the window.
func (l *SlidingLimiter) tryReserveSlot() (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if len(l.starts) < l.perMinute {
		l.starts = append(l.starts, now)
		return 0, true
	}
	wait = l.starts[0].Add(window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// Release returns the concurrency permit. The rate-window slot consumed at
// admission expires on its own.
func (l *SlidingLimiter) Release() {
	l.outstanding.Add(-1)
	l.sem.Release(1)
}

// State is a point-in-time snapshot for metrics and tests.
type State struct {
	Outstanding  int64 // concurrency permits currently held
	RecentStarts int   // call starts inside the trailing window
}

// Snapshot reports outstanding permits and recent call starts.
func (l *SlidingLimiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return State{
		Outstanding:  l.outstanding.Load(),
		RecentStarts: len(l.starts),
	}
}

func (l *SlidingLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.starts = append(l.starts[:0], l.starts[i:]...)
	}
}
