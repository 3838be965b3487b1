package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/api/models"
	"github.com/pulseboard/pulseboard/internal/api/response"
	"github.com/pulseboard/pulseboard/internal/health"
	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/resilience"
)

// ServiceHandler exposes per-service protection state and operator actions.
type ServiceHandler struct {
	client     *resilience.Client
	monitor    *health.Monitor
	repo       history.Repository
	upstreams  map[string]string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ServiceHandlerConfig holds dependencies for the service handler.
type ServiceHandlerConfig struct {
	Client  *resilience.Client
	Monitor *health.Monitor
	History history.Repository

	// Upstreams maps service names to their health endpoint URLs, used by
	// the call-through check.
	Upstreams map[string]string

	// HTTPClient is used for call-through checks. Defaults to a plain client.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// NewServiceHandler creates a new ServiceHandler.
func NewServiceHandler(cfg ServiceHandlerConfig) *ServiceHandler {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ServiceHandler{
		client:     cfg.Client,
		monitor:    cfg.Monitor,
		repo:       cfg.History,
		upstreams:  cfg.Upstreams,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "service_handler").Logger(),
	}
}

// knownServices is the union of configured upstreams and every service a
// breaker or queue has been created for.
func (h *ServiceHandler) knownServices() []string {
	set := make(map[string]struct{})
	for name := range h.upstreams {
		set[name] = struct{}{}
	}
	for _, name := range h.client.Breakers().Services() {
		set[name] = struct{}{}
	}
	for _, name := range h.client.Queues().Services() {
		set[name] = struct{}{}
	}
	if h.monitor != nil {
		for name := range h.monitor.Status() {
			set[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *ServiceHandler) detail(service string) models.ServiceDetail {
	detail := models.ServiceDetail{Service: service}

	if cb := h.client.Breakers().Get(service); cb != nil {
		stats := cb.Stats()
		detail.Breaker = &stats
	}
	if q := h.client.Queues().Get(service); q != nil {
		stats := q.Stats()
		qh := q.Health()
		detail.Queue = &stats
		detail.QueueHealth = &qh
	}
	if h.monitor != nil {
		if check, ok := h.monitor.Status()[service]; ok {
			detail.LastCheck = &check
		}
	}
	return detail
}

func (h *ServiceHandler) known(service string) bool {
	for _, name := range h.knownServices() {
		if name == service {
			return true
		}
	}
	return false
}

// ListServices handles GET /v1/services.
func (h *ServiceHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	names := h.knownServices()
	list := models.ServiceList{
		Services: make([]models.ServiceDetail, 0, len(names)),
		Count:    len(names),
	}
	for _, name := range names {
		list.Services = append(list.Services, h.detail(name))
	}
	response.JSON(w, r, http.StatusOK, list)
}

// GetService handles GET /v1/services/{service}.
func (h *ServiceHandler) GetService(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if !h.known(service) {
		response.NotFound(w, r, fmt.Sprintf("unknown service %q", service))
		return
	}
	response.JSON(w, r, http.StatusOK, h.detail(service))
}

// ResetBreaker handles POST /v1/services/{service}/breaker/reset.
// Resetting is idempotent and creates the breaker if it does not exist yet.
func (h *ServiceHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	cb := h.client.Breakers().GetOrCreate(service)
	cb.ForceReset()

	h.logger.Info().Str("service", service).Msg("breaker reset by operator")

	response.JSON(w, r, http.StatusOK, models.BreakerAction{
		Service: service,
		Action:  "reset",
		State:   cb.State(),
	})
}

// TripBreaker handles POST /v1/services/{service}/breaker/trip.
func (h *ServiceHandler) TripBreaker(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	cb := h.client.Breakers().GetOrCreate(service)
	cb.ForceTrip()

	h.logger.Warn().Str("service", service).Msg("breaker tripped by operator")

	response.JSON(w, r, http.StatusOK, models.BreakerAction{
		Service: service,
		Action:  "trip",
		State:   cb.State(),
	})
}

// ClearQueue handles POST /v1/services/{service}/queue/clear.
func (h *ServiceHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	q := h.client.Queues().Get(service)
	if q == nil {
		response.NotFound(w, r, fmt.Sprintf("no queue for service %q", service))
		return
	}

	cleared := q.Clear()
	h.logger.Info().Str("service", service).Int("cleared", cleared).Msg("queue cleared by operator")

	response.JSON(w, r, http.StatusOK, models.QueueAction{
		Service: service,
		Action:  "clear",
		Cleared: cleared,
		Paused:  q.Paused(),
	})
}

// PauseQueue handles POST /v1/services/{service}/queue/pause.
func (h *ServiceHandler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	q := h.client.Queues().GetOrCreate(service)
	q.Pause()

	h.logger.Info().Str("service", service).Msg("queue paused by operator")

	response.JSON(w, r, http.StatusOK, models.QueueAction{
		Service: service,
		Action:  "pause",
		Paused:  true,
	})
}

// ResumeQueue handles POST /v1/services/{service}/queue/resume.
func (h *ServiceHandler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	q := h.client.Queues().Get(service)
	if q == nil {
		response.NotFound(w, r, fmt.Sprintf("no queue for service %q", service))
		return
	}
	q.Resume()

	h.logger.Info().Str("service", service).Msg("queue resumed by operator")

	response.JSON(w, r, http.StatusOK, models.QueueAction{
		Service: service,
		Action:  "resume",
		Paused:  false,
	})
}

// checkRequest is the optional body for CheckService.
type checkRequest struct {
	Priority  string `json:"priority,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// CheckService handles POST /v1/services/{service}/check - performs a
// resilient GET against the service's configured upstream URL through the
// full queue, breaker, and retry chain.
func (h *ServiceHandler) CheckService(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	url, ok := h.upstreams[service]
	if !ok {
		response.NotFound(w, r, fmt.Sprintf("no upstream configured for service %q", service))
		return
	}

	var body checkRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.BadRequest(w, r, "invalid request body")
			return
		}
	}

	priority := resilience.Priority(body.Priority)
	if body.Priority != "" && !priority.Valid() {
		response.BadRequest(w, r, fmt.Sprintf("invalid priority %q", body.Priority))
		return
	}

	opts := resilience.CallOptions{Priority: priority}
	if body.TimeoutMs > 0 {
		opts.Timeout = time.Duration(body.TimeoutMs) * time.Millisecond
	}

	start := time.Now()
	result, err := h.client.Call(r.Context(), service, func(ctx context.Context) (any, error) {
		return h.probeUpstream(ctx, url)
	}, opts)
	elapsed := time.Since(start)

	if err != nil {
		h.logger.Warn().Str("service", service).Err(err).Msg("call-through check failed")
		response.ResilienceError(w, r, err)
		return
	}

	details, _ := result.(map[string]any)
	response.JSON(w, r, http.StatusOK, models.CheckResult{
		Service:    service,
		Success:    true,
		DurationMs: elapsed.Milliseconds(),
		Details:    details,
	})
}

func (h *ServiceHandler) probeUpstream(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &resilience.StatusError{StatusCode: resp.StatusCode}
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"url":        url,
	}, nil
}

// GetHistory handles GET /v1/services/{service}/history.
// Query params: limit (default 100), since (RFC3339).
func (h *ServiceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if h.repo == nil {
		response.ServiceUnavailable(w, r, "history storage not configured")
		return
	}

	var filter history.Filter
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			response.BadRequest(w, r, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(w, r, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	records, err := h.repo.ListByService(r.Context(), service, filter)
	if err != nil {
		h.logger.Error().Str("service", service).Err(err).Msg("history lookup failed")
		response.InternalError(w, r, "failed to load history")
		return
	}

	response.JSON(w, r, http.StatusOK, models.HistoryResponse{
		Service: service,
		Records: records,
		Count:   len(records),
	})
}
