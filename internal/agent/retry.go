package agent

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/ashita-ai/chosa/internal/gateway"
	"github.com/ashita-ai/chosa/internal/ratelimit"
)

// isRetriable reports whether a failed gateway call may be attempted again.
// Rate-limited and transient errors retry; invalid requests and open-breaker
// rejections never do. An admission timeout from the limiter is also worth
// another attempt once the window frees up.
func isRetriable(err error) bool {
	if gateway.IsRateLimited(err) || gateway.IsTransient(err) {
		return true
	}
	return errors.Is(err, ratelimit.ErrAcquireTimeout)
}

// withRetry executes fn, retrying up to maxRetries times on retriable errors
// with jittered exponential backoff starting at baseDelay.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
