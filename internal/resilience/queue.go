package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/health"
)

// Priority orders queued work ahead of strict arrival time.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// rank maps priorities to dequeue order; lower dequeues first. Unknown or
// empty priorities fall back to medium.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// QueueConfig holds configuration for a request queue.
type QueueConfig struct {
	// MaxConcurrent bounds the number of requests executing at once.
	// Default: 5
	MaxConcurrent int

	// MaxQueueSize bounds the number of pending requests; enqueues beyond
	// it are rejected with ErrQueueFull.
	// Default: 100
	MaxQueueSize int

	// DefaultTimeout applies to requests enqueued without their own.
	// Default: 30 seconds
	DefaultTimeout time.Duration

	// RateLimitWindow and RateLimitMax bound admissions: at most
	// RateLimitMax enqueues within any trailing RateLimitWindow.
	// Defaults: 1 minute, 100
	RateLimitWindow time.Duration
	RateLimitMax    int

	// RetryDelay is the base delay before re-queuing a failed request;
	// it doubles per attempt up to MaxRetryDelay.
	// Defaults: 1 second, 30 seconds
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// Metrics, when set, records rejections and queue wait times.
	Metrics *Metrics

	Logger zerolog.Logger
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrent:   5,
		MaxQueueSize:    100,
		DefaultTimeout:  30 * time.Second,
		RateLimitWindow: time.Minute,
		RateLimitMax:    100,
		RetryDelay:      time.Second,
		MaxRetryDelay:   30 * time.Second,
	}
}

// QueueOperation is the unit of work executed by the queue. The context is
// cancelled when the request's timeout elapses; operations that ignore it
// keep running in the background and their result is discarded.
type QueueOperation func(ctx context.Context) (any, error)

// EnqueueOptions control a single enqueue.
type EnqueueOptions struct {
	// Priority defaults to medium.
	Priority Priority

	// Timeout defaults to the queue's DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of re-executions after the first failure.
	// Zero means the default of 3; pass a negative value for no retries.
	MaxRetries int
}

// Result is the settled outcome of a queued request.
type Result struct {
	Value any
	Err   error
}

// Pending is the caller's handle on an enqueued request.
type Pending struct {
	id   string
	done chan Result
}

// ID returns the queued request's identifier.
func (p *Pending) ID() string { return p.id }

// Wait blocks until the request settles or ctx is done. Abandoning the wait
// does not cancel the queued request.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case res := <-p.done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// queuedRequest is the queue's internal record of one enqueued call.
type queuedRequest struct {
	id         string
	op         QueueOperation
	priority   Priority
	enqueuedAt time.Time
	retries    int
	maxRetries int
	timeout    time.Duration
	done       chan Result
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Service             string  `json:"service"`
	QueueSize           int     `json:"queueSize"`
	ActiveRequests      int     `json:"activeRequests"`
	CompletedRequests   int64   `json:"completedRequests"`
	FailedRequests      int64   `json:"failedRequests"`
	AverageWaitMs       float64 `json:"averageWaitMs"`
	AverageProcessingMs float64 `json:"averageProcessingMs"`
	RateLimitHits       int64   `json:"rateLimitHits"`
}

// QueueHealth is the queue's derived health plus the conditions behind it.
type QueueHealth struct {
	Status  health.Status `json:"status"`
	Reasons []string      `json:"reasons,omitempty"`
}

// dispatchInterval is the dispatcher's yield between scans of the queue.
const dispatchInterval = 5 * time.Millisecond

// RequestQueue is a bounded, prioritized, rate-limited admission and
// concurrency controller for one service. Admission is synchronous; accepted
// requests are dispatched by a lazily started goroutine in priority order,
// FIFO within a priority, with at most MaxConcurrent executing at once.
type RequestQueue struct {
	name   string
	config QueueConfig
	logger zerolog.Logger

	mu              sync.Mutex
	pending         []*queuedRequest
	active          map[string]struct{}
	history         []time.Time
	completed       int64
	failed          int64
	totalWait       time.Duration
	totalProcessing time.Duration
	rateLimitHits   int64
	paused          bool
	dispatching     bool
}

// NewRequestQueue creates a request queue for the named service.
func NewRequestQueue(name string, cfg QueueConfig) *RequestQueue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}

	return &RequestQueue{
		name:   name,
		config: cfg,
		logger: cfg.Logger.With().Str("queue", name).Logger(),
		active: make(map[string]struct{}),
	}
}

// Enqueue admits op into the queue. Admission failures (queue full, rate
// limit) are returned synchronously and leave the queue untouched; on
// success the returned Pending settles when the request completes, exhausts
// its retries, or the queue is cleared.
func (q *RequestQueue) Enqueue(op QueueOperation, opts EnqueueOptions) (*Pending, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = q.config.DefaultTimeout
	}

	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = 3
	case maxRetries < 0:
		maxRetries = 0
	}

	priority := opts.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	q.mu.Lock()

	if len(q.pending) >= q.config.MaxQueueSize {
		q.mu.Unlock()
		q.logger.Warn().Int("queue_size", q.config.MaxQueueSize).Msg("enqueue rejected, queue full")
		q.config.Metrics.RecordRejection(q.name, "queue_full")
		return nil, ErrQueueFull
	}

	now := time.Now()
	q.pruneHistoryLocked(now)
	if len(q.history) >= q.config.RateLimitMax {
		q.rateLimitHits++
		q.mu.Unlock()
		q.logger.Warn().
			Int("rate_limit_max", q.config.RateLimitMax).
			Dur("window", q.config.RateLimitWindow).
			Msg("enqueue rejected, rate limit exceeded")
		q.config.Metrics.RecordRejection(q.name, "rate_limit")
		return nil, ErrRateLimited
	}
	q.history = append(q.history, now)

	req := &queuedRequest{
		id:         uuid.New().String(),
		op:         op,
		priority:   priority,
		enqueuedAt: now,
		maxRetries: maxRetries,
		timeout:    timeout,
		done:       make(chan Result, 1),
	}
	q.insertLocked(req)
	q.ensureDispatcherLocked()
	q.mu.Unlock()

	q.logger.Debug().
		Str("request_id", req.id).
		Str("priority", string(priority)).
		Msg("request enqueued")

	return &Pending{id: req.id, done: req.done}, nil
}

// insertLocked places req after all entries of higher-or-equal priority,
// keeping FIFO order within a priority tier.
func (q *RequestQueue) insertLocked(req *queuedRequest) {
	idx := len(q.pending)
	for i, other := range q.pending {
		if other.priority.rank() > req.priority.rank() {
			idx = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = req
}

// pruneHistoryLocked drops admission timestamps older than the rate window.
func (q *RequestQueue) pruneHistoryLocked(now time.Time) {
	cutoff := now.Add(-q.config.RateLimitWindow)
	kept := q.history[:0]
	for _, t := range q.history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.history = kept
}

// ensureDispatcherLocked lazily starts the dispatch loop when work exists.
func (q *RequestQueue) ensureDispatcherLocked() {
	if q.dispatching {
		return
	}
	q.dispatching = true
	go q.dispatch()
}

// dispatch drains the queue while work exists, launching up to MaxConcurrent
// executions, then exits once the queue is empty and idle.
func (q *RequestQueue) dispatch() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 && len(q.active) == 0 {
			q.dispatching = false
			q.mu.Unlock()
			return
		}

		for !q.paused && len(q.active) < q.config.MaxConcurrent && len(q.pending) > 0 {
			req := q.pending[0]
			q.pending = q.pending[1:]
			q.active[req.id] = struct{}{}
			go q.execute(req)
		}
		q.mu.Unlock()

		time.Sleep(dispatchInterval)
	}
}

// execute runs one request attempt, racing the operation against its
// timeout. A lost race cancels the operation's context and abandons the
// wait; the operation itself may run to completion in the background.
func (q *RequestQueue) execute(req *queuedRequest) {
	start := time.Now()
	wait := start.Sub(req.enqueuedAt)
	q.config.Metrics.RecordQueueWait(q.name, wait)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opDone := make(chan Result, 1)
	go func() {
		value, err := req.op(ctx)
		opDone <- Result{Value: value, Err: err}
	}()

	timer := time.NewTimer(req.timeout)
	var res Result
	select {
	case res = <-opDone:
		timer.Stop()
	case <-timer.C:
		res = Result{Err: &TimeoutError{Timeout: req.timeout}}
	}

	q.mu.Lock()
	delete(q.active, req.id)
	q.totalWait += wait

	if res.Err == nil {
		q.completed++
		q.totalProcessing += time.Since(start)
		q.mu.Unlock()
		req.done <- res
		return
	}

	// Circuit-open rejections are local and immediate: retrying would only
	// hammer a breaker that already said no.
	var open *CircuitOpenError
	if errors.As(res.Err, &open) {
		q.failed++
		q.mu.Unlock()
		req.done <- res
		return
	}

	if req.retries < req.maxRetries {
		req.retries++
		delay := retryDelay(q.config.RetryDelay, q.config.MaxRetryDelay, req.retries)
		q.mu.Unlock()

		q.logger.Debug().
			Str("request_id", req.id).
			Int("retry", req.retries).
			Dur("delay", delay).
			Err(res.Err).
			Msg("request failed, scheduling retry")

		// The original enqueue timestamp is kept so wait time accumulates
		// across attempts.
		time.AfterFunc(delay, func() { q.requeue(req) })
		return
	}

	q.failed++
	q.mu.Unlock()

	q.logger.Warn().
		Str("request_id", req.id).
		Int("attempts", req.retries+1).
		Err(res.Err).
		Msg("request failed, retries exhausted")

	req.done <- Result{Err: &ExhaustedRetriesError{Attempts: req.retries + 1, Last: res.Err}}
}

// retryDelay is min(base * 2^(attempt-1), max).
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// requeue re-inserts a retried request by priority. Retries bypass
// admission: the slot was paid for at the original enqueue.
func (q *RequestQueue) requeue(req *queuedRequest) {
	q.mu.Lock()
	q.insertLocked(req)
	q.ensureDispatcherLocked()
	q.mu.Unlock()
}

// Stats returns a point-in-time snapshot of the queue's counters.
func (q *RequestQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	settled := q.completed + q.failed
	stats := QueueStats{
		Service:           q.name,
		QueueSize:         len(q.pending),
		ActiveRequests:    len(q.active),
		CompletedRequests: q.completed,
		FailedRequests:    q.failed,
		RateLimitHits:     q.rateLimitHits,
	}
	if settled > 0 {
		stats.AverageWaitMs = float64(q.totalWait.Milliseconds()) / float64(settled)
	}
	if q.completed > 0 {
		stats.AverageProcessingMs = float64(q.totalProcessing.Milliseconds()) / float64(q.completed)
	}
	return stats
}

// Health derives the queue's health from its counters. Any single condition
// is sufficient; unhealthy takes precedence over degraded.
func (q *RequestQueue) Health() QueueHealth {
	stats := q.Stats()

	q.mu.Lock()
	maxSize := q.config.MaxQueueSize
	q.mu.Unlock()

	var reasons []string
	status := health.StatusHealthy

	if stats.QueueSize > maxSize*8/10 {
		status = health.StatusDegraded
		reasons = append(reasons, "queue near capacity")
	}

	settled := stats.CompletedRequests + stats.FailedRequests
	if settled > 0 {
		failureRate := float64(stats.FailedRequests) / float64(settled)
		if failureRate > 0.3 {
			status = health.StatusUnhealthy
			reasons = append(reasons, "failure rate above 30%")
		} else if failureRate > 0.1 {
			if status != health.StatusUnhealthy {
				status = health.StatusDegraded
			}
			reasons = append(reasons, "failure rate above 10%")
		}
	}

	if stats.AverageWaitMs > 5000 {
		if status != health.StatusUnhealthy {
			status = health.StatusDegraded
		}
		reasons = append(reasons, "average wait above 5s")
	}

	if stats.RateLimitHits > 10 {
		if status != health.StatusUnhealthy {
			status = health.StatusDegraded
		}
		reasons = append(reasons, "frequent rate limiting")
	}

	return QueueHealth{Status: status, Reasons: reasons}
}

// Clear rejects every still-queued request with ErrQueueCleared. In-flight
// requests are not interrupted.
func (q *RequestQueue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, req := range dropped {
		req.done <- Result{Err: ErrQueueCleared}
	}

	if len(dropped) > 0 {
		q.logger.Warn().Int("dropped", len(dropped)).Msg("queue cleared")
	}
	return len(dropped)
}

// Pause stops dispatching new work; in-flight requests finish normally.
func (q *RequestQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.Info().Msg("queue paused")
}

// Resume restarts dispatching.
func (q *RequestQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.ensureDispatcherLocked()
	q.mu.Unlock()
	q.logger.Info().Msg("queue resumed")
}

// Paused reports whether the queue is paused.
func (q *RequestQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}
