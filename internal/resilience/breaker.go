// Package resilience protects outbound calls to downstream services with a
// per-service circuit breaker, a priority/rate-limited request queue, and
// retry with exponential backoff. The actual transport is injected per
// operation; this package only decides whether, when, and how often it runs.
package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures in the closed state that
	// trips the breaker open.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before the next
	// call is allowed through as a half-open probe.
	// Default: 60 seconds
	RecoveryTimeout time.Duration

	// MonitoringPeriod is the cyclic period for clearing the closed-state
	// failure count. Zero disables the reset.
	// Default: 10 seconds
	MonitoringPeriod time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker again.
	// Default: 2
	SuccessThreshold int

	// OnStateChange is called after every state transition, including
	// forced ones.
	OnStateChange func(name string, from, to State)

	Logger zerolog.Logger
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MonitoringPeriod: 10 * time.Second,
		SuccessThreshold: 2,
	}
}

// BreakerStats is a point-in-time snapshot of a circuit breaker.
type BreakerStats struct {
	Service         string     `json:"service"`
	State           State      `json:"state"`
	Failures        int        `json:"failures"`
	Successes       int        `json:"successes"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
	LastSuccessTime *time.Time `json:"lastSuccessTime,omitempty"`
	TotalRequests   int64      `json:"totalRequests"`
	TotalFailures   int64      `json:"totalFailures"`
	TotalSuccesses  int64      `json:"totalSuccesses"`
}

// CircuitBreaker is a per-service failure/success state machine deciding
// whether an operation may run. Closed: calls flow and failures count toward
// the threshold. Open: calls are rejected until the recovery timeout
// elapses. Half-open: calls flow, and SuccessThreshold consecutive successes
// close the breaker while a single failure reopens it.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime *time.Time
	lastSuccessTime *time.Time
	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	nextAttempt     time.Time
	windowStart     time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named service.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		name:        name,
		config:      cfg,
		logger:      cfg.Logger.With().Str("breaker", name).Logger(),
		now:         time.Now,
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// Operation is a deferred unit of work that returns a result or fails.
type Operation func() (any, error)

// Execute runs op if and only if the breaker currently permits it. When the
// breaker is open it fails fast with a *CircuitOpenError carrying the
// remaining cooldown, without invoking op.
func (cb *CircuitBreaker) Execute(op Operation) (any, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := op()
	if err != nil {
		cb.onFailure()
		return nil, err
	}

	cb.onSuccess()
	return result, nil
}

// beforeCall admits or rejects the call and records the attempt.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.state == StateOpen {
		if now.Before(cb.nextAttempt) {
			return &CircuitOpenError{Service: cb.name, RetryAfter: cb.nextAttempt.Sub(now)}
		}
		// Cooldown elapsed: this call becomes the half-open probe.
		cb.transition(StateHalfOpen)
		cb.successes = 0
	}

	if cb.state == StateClosed && cb.config.MonitoringPeriod > 0 &&
		now.Sub(cb.windowStart) >= cb.config.MonitoringPeriod {
		cb.failures = 0
		cb.windowStart = now
	}

	cb.totalRequests++

	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.totalSuccesses++
	cb.lastSuccessTime = &now

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.close()
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.totalFailures++
	cb.lastFailureTime = &now

	switch cb.state {
	case StateHalfOpen:
		// One failure during the probe window reopens immediately,
		// discarding any accumulated successes.
		cb.trip(now)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.trip(now)
		}
	}
}

// trip moves the breaker to open and schedules the next attempt.
// Callers must hold the mutex.
func (cb *CircuitBreaker) trip(now time.Time) {
	cb.transition(StateOpen)
	cb.nextAttempt = now.Add(cb.config.RecoveryTimeout)
	cb.failures = 0
	cb.successes = 0

	cb.logger.Warn().
		Time("next_attempt", cb.nextAttempt).
		Msg("circuit breaker tripped open")
}

// close moves the breaker to closed and clears the attempt window.
// Callers must hold the mutex.
func (cb *CircuitBreaker) close() {
	cb.transition(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.nextAttempt = time.Time{}
	cb.windowStart = cb.now()

	cb.logger.Info().Msg("circuit breaker closed")
}

// transition changes state and fires the listener. Callers hold the mutex.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// CanExecute reports whether a call would currently be admitted. It never
// mutates the breaker; an open breaker past its cooldown reports true even
// though the transition happens on the next Execute.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	return !cb.now().Before(cb.nextAttempt)
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a point-in-time snapshot.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Service:         cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailureTime: cb.lastFailureTime,
		LastSuccessTime: cb.lastSuccessTime,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
	}
}

// ForceReset closes the breaker regardless of its current state. Operator
// override; lifetime counters are preserved.
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Warn().Str("from", string(cb.state)).Msg("circuit breaker force reset")
	cb.close()
}

// ForceTrip opens the breaker regardless of its current state. Operator
// override for taking a downstream out of rotation.
func (cb *CircuitBreaker) ForceTrip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Warn().Str("from", string(cb.state)).Msg("circuit breaker force tripped")
	cb.trip(cb.now())
}
