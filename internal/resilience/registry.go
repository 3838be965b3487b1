package resilience

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/health"
)

// BreakerRegistry is a name-keyed collection of circuit breakers, created
// lazily on first use. Each registry exclusively owns the breakers it
// creates; a breaker is shared by every caller targeting the same service.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults BreakerConfig
	logger   zerolog.Logger
}

// NewBreakerRegistry creates a registry applying cfg to new breakers.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: cfg,
		logger:   cfg.Logger,
	}
}

// GetOrCreate returns the breaker for service, creating it on first use.
func (r *BreakerRegistry) GetOrCreate(service string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[service]; ok {
		return cb
	}
	cb = NewCircuitBreaker(service, r.defaults)
	r.breakers[service] = cb
	r.logger.Debug().Str("service", service).Msg("circuit breaker created")
	return cb
}

// Get returns the breaker for service, or nil if none exists yet.
func (r *BreakerRegistry) Get(service string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[service]
}

// All returns a copy of the name-to-breaker map.
func (r *BreakerRegistry) All() map[string]*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, cb := range r.breakers {
		all[name] = cb
	}
	return all
}

// Stats returns a snapshot per known service.
func (r *BreakerRegistry) Stats() map[string]BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]BreakerStats, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

// AnyBlocking reports whether any breaker would currently reject a call.
func (r *BreakerRegistry) AnyBlocking() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		if !cb.CanExecute() {
			return true
		}
	}
	return false
}

// ResetAll force-resets every breaker. Operator action.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.ForceReset()
	}
}

// Services returns the names of all known breakers.
func (r *BreakerRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// QueueRegistry is a name-keyed collection of request queues, created
// lazily on first use.
type QueueRegistry struct {
	mu       sync.RWMutex
	queues   map[string]*RequestQueue
	defaults QueueConfig
	logger   zerolog.Logger
}

// NewQueueRegistry creates a registry applying cfg to new queues.
func NewQueueRegistry(cfg QueueConfig) *QueueRegistry {
	return &QueueRegistry{
		queues:   make(map[string]*RequestQueue),
		defaults: cfg,
		logger:   cfg.Logger,
	}
}

// GetOrCreate returns the queue for service, creating it on first use.
func (r *QueueRegistry) GetOrCreate(service string) *RequestQueue {
	r.mu.RLock()
	q, ok := r.queues[service]
	r.mu.RUnlock()
	if ok {
		return q
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[service]; ok {
		return q
	}
	q = NewRequestQueue(service, r.defaults)
	r.queues[service] = q
	r.logger.Debug().Str("service", service).Msg("request queue created")
	return q
}

// Get returns the queue for service, or nil if none exists yet.
func (r *QueueRegistry) Get(service string) *RequestQueue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queues[service]
}

// Stats returns a snapshot per known service.
func (r *QueueRegistry) Stats() map[string]QueueStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]QueueStats, len(r.queues))
	for name, q := range r.queues {
		stats[name] = q.Stats()
	}
	return stats
}

// Health returns the derived health per known service.
func (r *QueueRegistry) Health() map[string]QueueHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	healths := make(map[string]QueueHealth, len(r.queues))
	for name, q := range r.queues {
		healths[name] = q.Health()
	}
	return healths
}

// OverallHealth is unhealthy if any queue is unhealthy, degraded if any is
// degraded, and healthy otherwise.
func (r *QueueRegistry) OverallHealth() health.Status {
	overall := health.StatusHealthy
	for _, qh := range r.Health() {
		switch qh.Status {
		case health.StatusUnhealthy:
			return health.StatusUnhealthy
		case health.StatusDegraded:
			overall = health.StatusDegraded
		}
	}
	return overall
}

// ClearAll rejects every queued request in every queue. Operator action.
func (r *QueueRegistry) ClearAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dropped := 0
	for _, q := range r.queues {
		dropped += q.Clear()
	}
	return dropped
}

// PauseAll pauses dispatching on every queue. Operator action.
func (r *QueueRegistry) PauseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, q := range r.queues {
		q.Pause()
	}
}

// ResumeAll resumes dispatching on every queue.
func (r *QueueRegistry) ResumeAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, q := range r.queues {
		q.Resume()
	}
}

// Services returns the names of all known queues.
func (r *QueueRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}
