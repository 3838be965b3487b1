package resilience_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/health"
	"github.com/pulseboard/pulseboard/internal/resilience"
)

func testClient(breaker resilience.BreakerConfig) *resilience.Client {
	queue := resilience.DefaultQueueConfig()
	queue.RetryDelay = time.Millisecond

	return resilience.NewClient(resilience.ClientConfig{
		Breaker: breaker,
		Queue:   queue,
		Retry: resilience.RetryConfig{
			MaxAttempts:     1,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	})
}

func TestClient_CallSucceeds(t *testing.T) {
	client := testClient(resilience.DefaultBreakerConfig())

	var calls atomic.Int32
	value, err := client.Call(context.Background(), "payments", func(_ context.Context) (any, error) {
		calls.Add(1)
		return "ok", nil
	}, resilience.CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, int32(1), calls.Load())

	stats := client.Breakers().Stats()["payments"]
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(1), client.Queues().Stats()["payments"].CompletedRequests)
}

func TestClient_BreakerFailsFastAfterOutage(t *testing.T) {
	client := testClient(resilience.BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	failing := func(_ context.Context) (any, error) {
		calls.Add(1)
		return nil, errDownstream
	}

	// Two failing calls trip the breaker (no queue or transport retries).
	for i := 0; i < 2; i++ {
		_, err := client.Call(ctx, "payments", failing, resilience.CallOptions{MaxRetries: -1})
		require.Error(t, err)
	}
	require.Equal(t, int32(2), calls.Load())

	// The third fails fast without invoking the operation.
	_, err := client.Call(ctx, "payments", failing, resilience.CallOptions{MaxRetries: -1})
	var open *resilience.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ClientErrorsSkipTransportRetry(t *testing.T) {
	client := resilience.NewClient(resilience.ClientConfig{
		Queue: resilience.DefaultQueueConfig(),
		Retry: resilience.RetryConfig{
			MaxAttempts:     5,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	_, err := client.Call(ctx, "payments", func(_ context.Context) (any, error) {
		calls.Add(1)
		return nil, &resilience.StatusError{StatusCode: http.StatusNotFound}
	}, resilience.CallOptions{MaxRetries: -1})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SystemHealthSnapshot(t *testing.T) {
	monitor := health.NewMonitor(map[string]health.ProbeFunc{
		"payments": func(_ context.Context) (health.Status, map[string]any, error) {
			return health.StatusHealthy, nil, nil
		},
		"inventory": func(_ context.Context) (health.Status, map[string]any, error) {
			return health.StatusUnhealthy, nil, nil
		},
	}, health.MonitorConfig{Interval: time.Hour})

	queue := resilience.DefaultQueueConfig()
	client := resilience.NewClient(resilience.ClientConfig{
		Breaker: resilience.DefaultBreakerConfig(),
		Queue:   queue,
		Monitor: monitor,
	})

	monitor.ForceCheck(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Call(ctx, "payments", func(_ context.Context) (any, error) {
		return "ok", nil
	}, resilience.CallOptions{})
	require.NoError(t, err)

	snapshot := client.SystemHealth()
	assert.False(t, snapshot.Timestamp.IsZero())
	assert.Equal(t, health.StatusHealthy, snapshot.Overall.Status)
	assert.Contains(t, snapshot.Overall.HealthyServices, "payments")
	assert.Contains(t, snapshot.Overall.UnhealthyServices, "inventory")
	assert.Contains(t, snapshot.CircuitBreakers, "payments")
	assert.Contains(t, snapshot.RequestQueues, "payments")
	assert.Equal(t, health.StatusUnhealthy, snapshot.HealthMonitor["inventory"].Status)
}

func TestClient_SystemHealthDegradedWhenBreakerBlocking(t *testing.T) {
	client := testClient(resilience.DefaultBreakerConfig())

	client.Breakers().GetOrCreate("payments").ForceTrip()

	snapshot := client.SystemHealth()
	assert.Equal(t, health.StatusDegraded, snapshot.Overall.Status)
	assert.Contains(t, snapshot.Overall.UnhealthyServices, "payments")
}
