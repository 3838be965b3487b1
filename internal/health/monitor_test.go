package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/health"
)

func healthyProbe(_ context.Context) (health.Status, map[string]any, error) {
	return health.StatusHealthy, nil, nil
}

func failingProbe(_ context.Context) (health.Status, map[string]any, error) {
	return health.StatusUnknown, nil, errors.New("connection refused")
}

func TestMonitor_ForceCheckRecordsAllProbes(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"payments":  healthyProbe,
		"inventory": failingProbe,
	}, health.MonitorConfig{Interval: time.Hour})

	checks := m.ForceCheck(context.Background())
	require.Len(t, checks, 2)

	assert.Equal(t, health.StatusHealthy, checks["payments"].Status)
	assert.Equal(t, health.StatusUnhealthy, checks["inventory"].Status)
	assert.Equal(t, "connection refused", checks["inventory"].Details["error"])
	assert.False(t, checks["inventory"].Timestamp.IsZero())

	assert.False(t, m.AllHealthy())
	assert.Equal(t, []string{"inventory"}, m.UnhealthyServices())
}

func TestMonitor_ProbeFailureDoesNotStopCycle(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"panics": func(_ context.Context) (health.Status, map[string]any, error) {
			panic("probe exploded")
		},
		"fine": healthyProbe,
	}, health.MonitorConfig{Interval: time.Hour})

	checks := m.ForceCheck(context.Background())
	assert.Equal(t, health.StatusUnhealthy, checks["panics"].Status)
	assert.Equal(t, health.StatusHealthy, checks["fine"].Status)
}

func TestMonitor_StatusReturnsDefensiveCopy(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"payments": healthyProbe,
	}, health.MonitorConfig{Interval: time.Hour})

	m.ForceCheck(context.Background())

	status := m.Status()
	status["payments"] = health.Check{Service: "payments", Status: health.StatusUnhealthy}

	assert.Equal(t, health.StatusHealthy, m.Status()["payments"].Status)
}

func TestMonitor_UnknownBeforeFirstCycle(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"payments": healthyProbe,
	}, health.MonitorConfig{Interval: time.Hour})

	assert.Equal(t, health.StatusUnknown, m.Status()["payments"].Status)
	assert.False(t, m.AllHealthy())
}

func TestMonitor_SubscriberNotifiedOncePerCycle(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"payments":  healthyProbe,
		"inventory": failingProbe,
	}, health.MonitorConfig{Interval: time.Hour})

	var notified atomic.Int32
	var lastSize atomic.Int32
	unsubscribe := m.Subscribe(func(checks map[string]health.Check) {
		notified.Add(1)
		lastSize.Store(int32(len(checks)))
	})

	m.ForceCheck(context.Background())
	assert.Equal(t, int32(1), notified.Load())
	assert.Equal(t, int32(2), lastSize.Load(), "subscriber receives the full updated map")

	m.ForceCheck(context.Background())
	assert.Equal(t, int32(2), notified.Load())

	unsubscribe()
	m.ForceCheck(context.Background())
	assert.Equal(t, int32(2), notified.Load())
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	var cycles atomic.Int32
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"payments": func(_ context.Context) (health.Status, map[string]any, error) {
			cycles.Add(1)
			return health.StatusHealthy, nil, nil
		},
	}, health.MonitorConfig{Interval: 20 * time.Millisecond})

	m.Start()
	m.Start() // logs a warning, no second loop
	require.True(t, m.Running())

	require.Eventually(t, func() bool {
		return cycles.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop() // no-op
	assert.False(t, m.Running())

	settled := cycles.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, cycles.Load(), "no cycles after stop")
}

func TestMonitor_Summary(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"payments":  healthyProbe,
		"inventory": failingProbe,
		"reports": func(_ context.Context) (health.Status, map[string]any, error) {
			return health.StatusDegraded, nil, nil
		},
	}, health.MonitorConfig{Interval: time.Hour})

	m.ForceCheck(context.Background())

	summary := m.Summary()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Healthy)
	assert.Equal(t, 1, summary.Degraded)
	assert.Equal(t, 1, summary.Unhealthy)
	assert.Equal(t, []string{"inventory"}, summary.UnhealthyServices)
	assert.False(t, summary.LastChecked.IsZero())
}

func TestMonitor_ProbeTimeoutApplied(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"slow": func(ctx context.Context) (health.Status, map[string]any, error) {
			select {
			case <-time.After(time.Second):
				return health.StatusHealthy, nil, nil
			case <-ctx.Done():
				return health.StatusUnknown, nil, ctx.Err()
			}
		},
	}, health.MonitorConfig{Interval: time.Hour, ProbeTimeout: 20 * time.Millisecond})

	start := time.Now()
	checks := m.ForceCheck(context.Background())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, health.StatusUnhealthy, checks["slow"].Status)
}

func TestHTTPProbe(t *testing.T) {
	t.Run("healthy on 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		probe := health.NewHTTPProbe(health.HTTPProbeConfig{URL: server.URL})
		status, details, err := probe(context.Background())

		require.NoError(t, err)
		assert.Equal(t, health.StatusHealthy, status)
		assert.Equal(t, http.StatusOK, details["statusCode"])
	})

	t.Run("unhealthy on 500", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		probe := health.NewHTTPProbe(health.HTTPProbeConfig{URL: server.URL})
		status, _, err := probe(context.Background())

		require.Error(t, err)
		assert.Equal(t, health.StatusUnhealthy, status)
	})

	t.Run("unhealthy on refused connection", func(t *testing.T) {
		probe := health.NewHTTPProbe(health.HTTPProbeConfig{URL: "http://127.0.0.1:1"})
		status, _, err := probe(context.Background())

		require.Error(t, err)
		assert.Equal(t, health.StatusUnhealthy, status)
	})

	t.Run("degraded when slow", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(30 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		probe := health.NewHTTPProbe(health.HTTPProbeConfig{
			URL:           server.URL,
			DegradedAfter: time.Millisecond,
		})
		status, _, err := probe(context.Background())

		require.NoError(t, err)
		assert.Equal(t, health.StatusDegraded, status)
	})
}

func TestMonitor_ConcurrentForceChecksDoNotOverlap(t *testing.T) {
	m := health.NewMonitor(map[string]health.ProbeFunc{
		"payments": healthyProbe,
	}, health.MonitorConfig{Interval: time.Hour})

	// A subscriber runs inside the cycle; if two cycles ever overlap the
	// in-flight gauge exceeds one.
	var inCycle, maxInCycle atomic.Int32
	unsubscribe := m.Subscribe(func(_ map[string]health.Check) {
		n := inCycle.Add(1)
		for {
			max := maxInCycle.Load()
			if n <= max || maxInCycle.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inCycle.Add(-1)
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				m.ForceCheck(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInCycle.Load())
}
