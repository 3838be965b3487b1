package models

import (
	"github.com/pulseboard/pulseboard/internal/health"
	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/resilience"
)

// Health is the liveness/readiness response body.
type Health struct {
	Status  string         `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// Health status values.
const (
	HealthStatusOK   = "OK"
	HealthStatusFail = "FAIL"
)

// ServiceDetail combines the protection-layer view of one service.
type ServiceDetail struct {
	Service     string                   `json:"service"`
	Breaker     *resilience.BreakerStats `json:"circuitBreaker,omitempty"`
	Queue       *resilience.QueueStats   `json:"requestQueue,omitempty"`
	QueueHealth *resilience.QueueHealth  `json:"queueHealth,omitempty"`
	LastCheck   *health.Check            `json:"lastCheck,omitempty"`
}

// ServiceList is the collection response for all known services.
type ServiceList struct {
	Services []ServiceDetail `json:"services"`
	Count    int             `json:"count"`
}

// BreakerAction is the response to a breaker operator action.
type BreakerAction struct {
	Service string           `json:"service"`
	Action  string           `json:"action"`
	State   resilience.State `json:"state"`
}

// QueueAction is the response to a queue operator action.
type QueueAction struct {
	Service string `json:"service"`
	Action  string `json:"action"`
	Cleared int    `json:"cleared,omitempty"`
	Paused  bool   `json:"paused"`
}

// BulkAction is the response to an operator action across all services.
type BulkAction struct {
	Action   string `json:"action"`
	Services int    `json:"services"`
	Cleared  int    `json:"cleared,omitempty"`
}

// CheckResult is the response to an on-demand resilient call-through.
type CheckResult struct {
	Service    string         `json:"service"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"durationMs"`
	Details    map[string]any `json:"details,omitempty"`
}

// HistoryResponse is the response for a service's health history.
type HistoryResponse struct {
	Service string           `json:"service"`
	Records []history.Record `json:"records"`
	Count   int              `json:"count"`
}
