package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProbe = errors.New("downstream unavailable")

// These tests pin the breaker's time-based edges to an exact clock instead of
// sleeping through real cooldowns.

func TestBreakerRecoveryDeadlineIsExact(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base

	cb := NewCircuitBreaker("payments", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})
	cb.now = func() time.Time { return current }

	_, err := cb.Execute(func() (any, error) { return nil, errProbe })
	require.ErrorIs(t, err, errProbe)
	require.Equal(t, StateOpen, cb.State())

	// One nanosecond shy of the deadline the breaker still rejects, and the
	// reported cooldown is exactly the remainder.
	current = base.Add(time.Minute - time.Nanosecond)
	assert.False(t, cb.CanExecute())

	_, err = cb.Execute(func() (any, error) { return "ok", nil })
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, time.Nanosecond, open.RetryAfter)
	assert.Equal(t, StateOpen, cb.State())

	// At the deadline the next call becomes the half-open probe.
	current = base.Add(time.Minute)
	assert.True(t, cb.CanExecute())

	_, err = cb.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreakerMonitoringPeriodClearsStaleFailures(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base

	cb := NewCircuitBreaker("payments", BreakerConfig{
		FailureThreshold: 3,
		MonitoringPeriod: 10 * time.Second,
	})
	cb.now = func() time.Time { return current }
	cb.windowStart = current

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errProbe })
	}
	require.Equal(t, 2, cb.Stats().Failures)

	// The window rolls over before the third failure, so the stale count is
	// discarded and the breaker stays closed.
	current = base.Add(11 * time.Second)
	_, _ = cb.Execute(func() (any, error) { return nil, errProbe })

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Failures)
}
