package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireReleaseUnderLimit(t *testing.T) {
	l := NewSlidingLimiter(2, 100)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	st := l.Snapshot()
	if st.Outstanding != 2 {
		t.Fatalf("expected 2 outstanding permits, got %d", st.Outstanding)
	}

	l.Release()
	l.Release()

	if st := l.Snapshot(); st.Outstanding != 0 {
		t.Fatalf("expected 0 outstanding permits after release, got %d", st.Outstanding)
	}
}

func TestConcurrencyBoundNeverExceeded(t *testing.T) {
	const maxConcurrent = 3
	l := NewSlidingLimiter(maxConcurrent, 1000)
	ctx := context.Background()

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			l.Release()
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > maxConcurrent {
		t.Fatalf("observed %d concurrent holders, limit is %d", p, maxConcurrent)
	}
}

func TestAcquireTimesOutWhenSaturated(t *testing.T) {
	l := NewSlidingLimiter(1, 100)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
}

func TestRateWindowDelaysBurstOverflow(t *testing.T) {
	// Virtual clock so the test does not sleep for real minutes.
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	const perMinute = 5
	l := NewSlidingLimiter(perMinute+1, perMinute)
	l.now = clock

	ctx := context.Background()
	for i := 0; i < perMinute; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	// The (limit+1)th rapid acquire must not be admitted while the window is full.
	overCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(overCtx); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected window overflow to time out, got %v", err)
	}

	// Advance past the window; the same acquire now succeeds.
	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after window elapsed: %v", err)
	}
}

func TestWindowSlotExpiresWithoutRelease(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	l := NewSlidingLimiter(10, 2)
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	// Permits are still held. Only the rate window should block further starts.
	if st := l.Snapshot(); st.RecentStarts != 2 {
		t.Fatalf("expected 2 recent starts, got %d", st.RecentStarts)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if st := l.Snapshot(); st.RecentStarts != 0 {
		t.Fatalf("expected starts to expire naturally, got %d", st.RecentStarts)
	}
	if st := l.Snapshot(); st.Outstanding != 2 {
		t.Fatalf("permits must not expire with the window, got %d outstanding", st.Outstanding)
	}
}

func TestNoopLimiterAlwaysAdmits(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("NoopLimiter.Acquire: %v", err)
		}
		l.Release()
	}
}
