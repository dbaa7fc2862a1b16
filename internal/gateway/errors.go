package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure. Retry policy is a pure function of
// the kind: rate-limited calls back off and retry, transient calls retry and
// feed the circuit breaker, invalid requests fail immediately.
type ErrorKind string

const (
	// KindRateLimited means the service refused the call for quota reasons.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers 5xx responses, timeouts, and transport failures.
	KindTransient ErrorKind = "transient"
	// KindInvalidRequest means the request itself violates a hard service
	// limit (oversized context, unknown model). Never retried.
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Error is the classified failure every Gateway implementation returns.
type Error struct {
	Kind    ErrorKind
	Status  int // HTTP status when applicable, 0 otherwise
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from a classified error chain.
func KindOf(err error) (ErrorKind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// IsRateLimited reports whether err is a rate-limited gateway error.
func IsRateLimited(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRateLimited
}

// IsTransient reports whether err is a transient gateway error.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransient
}

// IsInvalidRequest reports whether err is a fatal request-validation error.
func IsInvalidRequest(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindInvalidRequest
}
