package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls the transport-level retry layer that runs beneath
// the circuit breaker. It covers per-attempt flakiness; systemic outage is
// the breaker's job and queued-request retry is the queue's.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialInterval is the first backoff delay.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	// Default: 5 seconds
	MaxInterval time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Retry runs op with exponential backoff. Non-retryable failures (4xx-class
// StatusError except 429) abort immediately; context cancellation stops the
// backoff between attempts.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (any, error)) (any, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0 // attempts are bounded by WithMaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx)

	var result any
	err := backoff.Retry(func() error {
		value, err := op(ctx)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = value
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// isRetryable reports whether a transport failure is worth another attempt.
func isRetryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	// Network errors, timeouts, and unclassified failures are retryable.
	return true
}
