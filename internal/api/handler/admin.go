package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/api/models"
	"github.com/pulseboard/pulseboard/internal/api/response"
	"github.com/pulseboard/pulseboard/internal/health"
	"github.com/pulseboard/pulseboard/internal/resilience"
)

// AdminHandler handles bulk operator actions across all services.
type AdminHandler struct {
	client  *resilience.Client
	monitor *health.Monitor
	logger  zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(client *resilience.Client, monitor *health.Monitor, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		client:  client,
		monitor: monitor,
		logger:  logger.With().Str("component", "admin_handler").Logger(),
	}
}

// ResetAllBreakers handles POST /v1/admin/breakers/reset.
func (h *AdminHandler) ResetAllBreakers(w http.ResponseWriter, r *http.Request) {
	services := h.client.Breakers().Services()
	h.client.Breakers().ResetAll()

	h.logger.Info().Int("services", len(services)).Msg("all breakers reset by operator")

	response.JSON(w, r, http.StatusOK, models.BulkAction{
		Action:   "reset",
		Services: len(services),
	})
}

// ClearAllQueues handles POST /v1/admin/queues/clear.
func (h *AdminHandler) ClearAllQueues(w http.ResponseWriter, r *http.Request) {
	services := h.client.Queues().Services()
	cleared := h.client.Queues().ClearAll()

	h.logger.Info().Int("services", len(services)).Int("cleared", cleared).
		Msg("all queues cleared by operator")

	response.JSON(w, r, http.StatusOK, models.BulkAction{
		Action:   "clear",
		Services: len(services),
		Cleared:  cleared,
	})
}

// PauseAllQueues handles POST /v1/admin/queues/pause.
func (h *AdminHandler) PauseAllQueues(w http.ResponseWriter, r *http.Request) {
	h.client.Queues().PauseAll()
	services := h.client.Queues().Services()

	h.logger.Info().Int("services", len(services)).Msg("all queues paused by operator")

	response.JSON(w, r, http.StatusOK, models.BulkAction{
		Action:   "pause",
		Services: len(services),
	})
}

// ResumeAllQueues handles POST /v1/admin/queues/resume.
func (h *AdminHandler) ResumeAllQueues(w http.ResponseWriter, r *http.Request) {
	h.client.Queues().ResumeAll()
	services := h.client.Queues().Services()

	h.logger.Info().Int("services", len(services)).Msg("all queues resumed by operator")

	response.JSON(w, r, http.StatusOK, models.BulkAction{
		Action:   "resume",
		Services: len(services),
	})
}

// ForceHealthCheck handles POST /v1/admin/health/check - runs one monitor
// cycle synchronously and returns the fresh checks.
func (h *AdminHandler) ForceHealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		response.ServiceUnavailable(w, r, "health monitor not configured")
		return
	}

	checks := h.monitor.ForceCheck(r.Context())
	h.logger.Info().Int("services", len(checks)).Msg("health check forced by operator")

	response.JSON(w, r, http.StatusOK, checks)
}
