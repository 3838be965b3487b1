package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Admission errors are returned synchronously from Enqueue. They never touch
// the circuit breaker or the transport and are never retried.
var (
	// ErrQueueFull is returned when the queue has reached MaxQueueSize.
	ErrQueueFull = errors.New("request queue is full")

	// ErrRateLimited is returned when the sliding-window rate limit is hit.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrQueueCleared settles pending requests discarded by Clear.
	ErrQueueCleared = errors.New("request queue cleared")
)

// CircuitOpenError is returned when the circuit breaker rejects a call
// without invoking the operation. RetryAfter is the remaining cooldown.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Service, e.RetryAfter)
}

// TimeoutError is returned when an operation did not settle within its
// allotted timeout. The operation itself may still be running; only the
// wait was abandoned.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

// ExhaustedRetriesError surfaces to the caller once the queue's retry
// budget is spent. Last is the failure from the final attempt.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Last
}

// StatusError represents an HTTP-level failure from the injected transport.
// 5xx and 429 responses are retryable; other 4xx responses are not.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "upstream returned " + http.StatusText(e.StatusCode)
}

// Retryable reports whether the status indicates a transient condition.
func (e *StatusError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}
