// Package health provides an active health monitor: a fixed set of named
// probes polled on an interval, with aggregated status published to
// subscribers. The monitor is a side channel; it never gates requests.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the health of a probed service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Check is the latest result for one probe, overwritten each cycle.
type Check struct {
	Service      string         `json:"service"`
	Status       Status         `json:"status"`
	ResponseTime time.Duration  `json:"responseTime"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details,omitempty"`
}

// ProbeFunc checks one service. Implementations should respect ctx, which
// carries the monitor's per-probe timeout. A returned error is converted
// into an unhealthy Check rather than propagated.
type ProbeFunc func(ctx context.Context) (Status, map[string]any, error)

// Summary aggregates the latest cycle across all probes.
type Summary struct {
	Total             int           `json:"total"`
	Healthy           int           `json:"healthy"`
	Degraded          int           `json:"degraded"`
	Unhealthy         int           `json:"unhealthy"`
	Unknown           int           `json:"unknown"`
	UnhealthyServices []string      `json:"unhealthyServices,omitempty"`
	AverageResponse   time.Duration `json:"averageResponse"`
	LastChecked       time.Time     `json:"lastChecked"`
}

// Subscriber receives a copy of the full check map after every cycle.
type Subscriber func(checks map[string]Check)

// MonitorConfig holds configuration for the health monitor.
type MonitorConfig struct {
	// Interval between poll cycles.
	// Default: 30 seconds
	Interval time.Duration

	// ProbeTimeout bounds each individual probe call. This is distinct
	// from the resilience layer's request timeout.
	// Default: 5 seconds
	ProbeTimeout time.Duration

	Logger zerolog.Logger
}

// Monitor polls a fixed set of named probes and records a Check per probe.
type Monitor struct {
	config MonitorConfig
	logger zerolog.Logger

	// cycleMu serializes poll cycles. The timer loop and ForceCheck can
	// otherwise run concurrently, and subscribers rely on seeing cycles
	// one at a time.
	cycleMu sync.Mutex

	mu      sync.RWMutex
	probes  map[string]ProbeFunc
	checks  map[string]Check
	subs    map[int]Subscriber
	nextSub int
	running bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates a monitor over the given named probes.
func NewMonitor(probes map[string]ProbeFunc, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	registered := make(map[string]ProbeFunc, len(probes))
	checks := make(map[string]Check, len(probes))
	for name, probe := range probes {
		registered[name] = probe
		checks[name] = Check{Service: name, Status: StatusUnknown}
	}

	return &Monitor{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "health_monitor").Logger(),
		probes: registered,
		checks: checks,
		subs:   make(map[int]Subscriber),
	}
}

// Start begins the poll loop. Starting an already-running monitor logs a
// warning and is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn().Msg("health monitor already running")
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()

	m.logger.Info().
		Dur("interval", m.config.Interval).
		Int("probes", len(m.probes)).
		Msg("health monitor started")
}

// Stop halts the poll loop and waits for the in-flight cycle. Stopping a
// stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("health monitor stopped")
}

// Running reports whether the poll loop is active.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ForceCheck runs one poll cycle immediately, independent of the timer.
// It is synchronous: when it returns, the check map reflects the cycle.
func (m *Monitor) ForceCheck(ctx context.Context) map[string]Check {
	return m.runCycle(ctx)
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// First cycle runs immediately rather than one interval in.
	m.runCycle(context.Background())

	for {
		select {
		case <-ticker.C:
			m.runCycle(context.Background())
		case <-m.stop:
			return
		}
	}
}

// runCycle evaluates every probe independently and concurrently; one probe
// failing or panicking never stops the cycle. Cycles never overlap: a forced
// check blocks until an in-flight timer cycle finishes, so subscribers are
// notified exactly once per completed cycle with a copy of the full map.
func (m *Monitor) runCycle(ctx context.Context) map[string]Check {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	m.mu.RLock()
	probes := make(map[string]ProbeFunc, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan Check, len(probes))

	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe ProbeFunc) {
			defer wg.Done()
			results <- m.runProbe(ctx, name, probe)
		}(name, probe)
	}
	wg.Wait()
	close(results)

	m.mu.Lock()
	for check := range results {
		m.checks[check.Service] = check
	}
	snapshot := copyChecks(m.checks)
	subs := make([]Subscriber, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub(copyChecks(snapshot))
	}

	return snapshot
}

func (m *Monitor) runProbe(ctx context.Context, name string, probe ProbeFunc) Check {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	status, details, err := func() (status Status, details map[string]any, err error) {
		defer func() {
			if r := recover(); r != nil {
				status = StatusUnhealthy
				details = map[string]any{"panic": r}
			}
		}()
		return probe(probeCtx)
	}()
	elapsed := time.Since(start)

	if err != nil {
		status = StatusUnhealthy
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = err.Error()

		m.logger.Warn().
			Str("service", name).
			Dur("response_time", elapsed).
			Err(err).
			Msg("health probe failed")
	}
	if status == "" {
		status = StatusUnknown
	}

	return Check{
		Service:      name,
		Status:       status,
		ResponseTime: elapsed,
		Timestamp:    time.Now(),
		Details:      details,
	}
}

// Subscribe registers a listener invoked once per completed cycle. The
// returned function removes the subscription.
func (m *Monitor) Subscribe(sub Subscriber) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Status returns a defensive copy of the latest check per service.
func (m *Monitor) Status() map[string]Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyChecks(m.checks)
}

// AllHealthy reports whether every probe's latest check is healthy.
func (m *Monitor) AllHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if check.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// UnhealthyServices returns the names of probes whose latest check is
// unhealthy.
func (m *Monitor) UnhealthyServices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, check := range m.checks {
		if check.Status == StatusUnhealthy {
			names = append(names, name)
		}
	}
	return names
}

// Summary aggregates counts, average response time, and the most recent
// check timestamp across probes.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{Total: len(m.checks)}
	var totalResponse time.Duration
	measured := 0

	for name, check := range m.checks {
		switch check.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		case StatusUnhealthy:
			s.Unhealthy++
			s.UnhealthyServices = append(s.UnhealthyServices, name)
		default:
			s.Unknown++
		}
		if !check.Timestamp.IsZero() {
			totalResponse += check.ResponseTime
			measured++
			if check.Timestamp.After(s.LastChecked) {
				s.LastChecked = check.Timestamp
			}
		}
	}
	if measured > 0 {
		s.AverageResponse = totalResponse / time.Duration(measured)
	}
	return s
}

func copyChecks(in map[string]Check) map[string]Check {
	out := make(map[string]Check, len(in))
	for name, check := range in {
		out[name] = check
	}
	return out
}
