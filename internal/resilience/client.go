package resilience

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/health"
)

// ClientConfig holds configuration for the resilient call facade.
type ClientConfig struct {
	// Breaker and Queue configs apply to registries created by NewClient.
	Breaker BreakerConfig
	Queue   QueueConfig

	// Retry configures the transport-level retry layer beneath the breaker.
	Retry RetryConfig

	// Monitor, when set, contributes probe results to SystemHealth.
	Monitor *health.Monitor

	// Metrics, when set, records calls, rejections, and transitions.
	Metrics *Metrics

	Logger zerolog.Logger
}

// Client is the resilient call facade. For a named service it lazily
// obtains that service's queue and breaker, then runs each call as
// queue(breaker(retry(operation))): the queue's retry handles transient
// per-call failure, the breaker fails fast during systemic outage, and the
// inner retry absorbs transport flakiness. The three layers compose; none
// substitutes for another.
type Client struct {
	breakers *BreakerRegistry
	queues   *QueueRegistry
	retry    RetryConfig
	monitor  *health.Monitor
	metrics  *Metrics
	logger   zerolog.Logger
}

// NewClient creates the facade and its registries.
func NewClient(cfg ClientConfig) *Client {
	metrics := cfg.Metrics

	breakerCfg := cfg.Breaker
	breakerCfg.Logger = cfg.Logger
	if metrics != nil {
		userHook := breakerCfg.OnStateChange
		breakerCfg.OnStateChange = func(name string, from, to State) {
			metrics.RecordTransition(name, from, to)
			if userHook != nil {
				userHook(name, from, to)
			}
		}
	}

	queueCfg := cfg.Queue
	queueCfg.Logger = cfg.Logger
	queueCfg.Metrics = metrics

	return &Client{
		breakers: NewBreakerRegistry(breakerCfg),
		queues:   NewQueueRegistry(queueCfg),
		retry:    cfg.Retry,
		monitor:  cfg.Monitor,
		metrics:  metrics,
		logger:   cfg.Logger,
	}
}

// CallOptions control one resilient call.
type CallOptions struct {
	// Priority defaults to medium.
	Priority Priority

	// Timeout defaults to the queue's DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the queue-level retry budget. Zero means the default
	// of 3; negative disables queue retries.
	MaxRetries int
}

// Call runs op against the named service through the full resilience chain
// and blocks until the call settles or ctx is done.
func (c *Client) Call(ctx context.Context, service string, op func(ctx context.Context) (any, error), opts CallOptions) (any, error) {
	queue := c.queues.GetOrCreate(service)
	breaker := c.breakers.GetOrCreate(service)
	start := time.Now()

	pending, err := queue.Enqueue(func(qctx context.Context) (any, error) {
		return breaker.Execute(func() (any, error) {
			return Retry(qctx, c.retry, op)
		})
	}, EnqueueOptions{
		Priority:   opts.Priority,
		Timeout:    opts.Timeout,
		MaxRetries: opts.MaxRetries,
	})
	if err != nil {
		c.metrics.RecordCall(service, time.Since(start), err)
		return nil, err
	}

	value, err := pending.Wait(ctx)
	c.metrics.RecordCall(service, time.Since(start), err)
	return value, err
}

// Breakers returns the breaker registry for operator actions.
func (c *Client) Breakers() *BreakerRegistry { return c.breakers }

// Queues returns the queue registry for operator actions.
func (c *Client) Queues() *QueueRegistry { return c.queues }

// QueueView pairs a queue's stats with its derived health.
type QueueView struct {
	Stats  QueueStats  `json:"stats"`
	Health QueueHealth `json:"health"`
}

// OverallHealth is the merged verdict across queues, breakers, and probes.
type OverallHealth struct {
	Status            health.Status `json:"status"`
	HealthyServices   []string      `json:"healthyServices"`
	UnhealthyServices []string      `json:"unhealthyServices"`
}

// SystemHealth is the combined snapshot consumed by the dashboard.
type SystemHealth struct {
	Timestamp       time.Time               `json:"timestamp"`
	Overall         OverallHealth           `json:"overall"`
	CircuitBreakers map[string]BreakerStats `json:"circuitBreakers"`
	RequestQueues   map[string]QueueView    `json:"requestQueues"`
	HealthMonitor   map[string]health.Check `json:"healthMonitor"`
}

// SystemHealth merges breaker stats, queue stats and health, and the latest
// monitor checks. Overall status is healthy only when the queues' aggregate
// health is healthy and no breaker is currently blocking execution.
func (c *Client) SystemHealth() SystemHealth {
	snapshot := SystemHealth{
		Timestamp:       time.Now(),
		CircuitBreakers: c.breakers.Stats(),
		RequestQueues:   make(map[string]QueueView),
		HealthMonitor:   map[string]health.Check{},
	}

	queueStats := c.queues.Stats()
	queueHealth := c.queues.Health()
	for name, stats := range queueStats {
		snapshot.RequestQueues[name] = QueueView{Stats: stats, Health: queueHealth[name]}
	}

	if c.monitor != nil {
		snapshot.HealthMonitor = c.monitor.Status()
	}

	healthySet := map[string]bool{}
	unhealthySet := map[string]bool{}
	for name, check := range snapshot.HealthMonitor {
		switch check.Status {
		case health.StatusHealthy:
			healthySet[name] = true
		case health.StatusUnhealthy:
			unhealthySet[name] = true
		}
	}
	for name, cb := range c.breakers.All() {
		if !cb.CanExecute() {
			delete(healthySet, name)
			unhealthySet[name] = true
		}
	}
	snapshot.Overall.HealthyServices = sortedKeys(healthySet)
	snapshot.Overall.UnhealthyServices = sortedKeys(unhealthySet)

	queuesOverall := c.queues.OverallHealth()
	blocking := c.breakers.AnyBlocking()
	switch {
	case queuesOverall == health.StatusUnhealthy:
		snapshot.Overall.Status = health.StatusUnhealthy
	case queuesOverall == health.StatusDegraded || blocking:
		snapshot.Overall.Status = health.StatusDegraded
	default:
		snapshot.Overall.Status = health.StatusHealthy
	}

	return snapshot
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
