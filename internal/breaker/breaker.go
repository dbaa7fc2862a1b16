// Package breaker implements a circuit breaker around one class of outbound
// call. After a configured number of expected failures the breaker opens and
// rejects calls without invoking the wrapped function; after a cool-down it
// permits trial calls and closes again once enough of them succeed.
//
// The breaker never inspects error content. Callers supply an IsExpected
// classifier; errors it rejects pass through without touching the failure
// accounting.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/chosa/internal/telemetry"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// wrapped function. Rejections are counted separately from failures.
var ErrOpen = errors.New("breaker: open")

// BreakerState names the three states of the state machine.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Config tunes the state machine.
type Config struct {
	// FailureThreshold is the number of consecutive expected failures in
	// CLOSED that trip the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive trial successes in
	// HALF_OPEN required to close again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays OPEN before permitting a
	// trial call.
	OpenTimeout time.Duration
	// IsExpected classifies errors. Only expected errors count as failures;
	// anything else passes through untouched. Nil means all errors count.
	IsExpected func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.IsExpected == nil {
		c.IsExpected = func(error) bool { return true }
	}
	return c
}

// Stats is a snapshot of the breaker's counters.
type Stats struct {
	State       BreakerState
	Failures    int // consecutive expected failures in the current state
	Successes   int // consecutive trial successes while HALF_OPEN
	Requests    int64
	Rejections  int64
	LastFailure time.Time
	LastSuccess time.Time
}

// Breaker wraps one class of outbound call. Safe for concurrent use.
type Breaker struct {
	name        string
	cfg         Config
	logger      *slog.Logger
	transitions metric.Int64Counter

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	requests    int64
	rejections  int64
	openedAt    time.Time
	lastFailure time.Time
	lastSuccess time.Time

	now func() time.Time
}

// New constructs a closed breaker. The name appears in logs and errors.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	transitions, _ := telemetry.Meter("chosa/breaker").Int64Counter("breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"))
	return &Breaker{
		name:        name,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		transitions: transitions,
		state:       StateClosed,
		now:         time.Now,
	}
}

// Call runs fn under the breaker. In OPEN before the cool-down it returns
// ErrOpen without invoking fn. Expected errors from fn are counted as
// failures; unexpected errors pass through without affecting the state
// machine. ctx is handed to fn unchanged.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// admit decides whether a call may proceed, transitioning OPEN to HALF_OPEN
// when the cool-down has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			b.rejections++
			return fmt.Errorf("%w: %s", ErrOpen, b.name)
		}
		b.transitionLocked(StateHalfOpen)
		return nil
	default:
		return nil
	}
}

// record feeds a call outcome into the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.lastSuccess = b.now()
		switch b.state {
		case StateHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transitionLocked(StateClosed)
			}
		case StateClosed:
			b.failures = 0
		}
		return
	}

	if !b.cfg.IsExpected(err) {
		// Not the breaker's business. Pass through untouched.
		return
	}

	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// A single trial failure reopens immediately and discards any
		// partial success count.
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) transitionLocked(next BreakerState) {
	prev := b.state
	b.state = next
	switch next {
	case StateOpen:
		b.openedAt = b.now()
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
		b.failures = 0
	case StateClosed:
		b.failures = 0
		b.successes = 0
	}
	b.logger.Info("breaker state change", "breaker", b.name, "from", prev, "to", next)
	b.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", b.name),
		attribute.String("to", string(next)),
	))
}

// State returns the current state without advancing the machine.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's counters.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		Requests:    b.requests,
		Rejections:  b.rejections,
		LastFailure: b.lastFailure,
		LastSuccess: b.lastSuccess,
	}
}
