// Package api provides the HTTP API for PulseBoard.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/api/handler"
	"github.com/pulseboard/pulseboard/internal/api/middleware"
	"github.com/pulseboard/pulseboard/internal/health"
	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Client is the resilience layer: registries of breakers and queues
	// plus the composed call path.
	Client *resilience.Client

	// Monitor is the active health monitor; optional.
	Monitor *health.Monitor

	// History stores health check history; optional.
	History history.Repository

	// Upstreams maps service names to health endpoint URLs for the
	// call-through check.
	Upstreams map[string]string

	// HTTPClient is used for call-through checks; optional.
	HTTPClient *http.Client
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pulseboard-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Client)
	serviceHandler := handler.NewServiceHandler(handler.ServiceHandlerConfig{
		Client:     cfg.Client,
		Monitor:    cfg.Monitor,
		History:    cfg.History,
		Upstreams:  cfg.Upstreams,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})
	adminHandler := handler.NewAdminHandler(cfg.Client, cfg.Monitor, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min
	operatorRateLimit := middleware.RateLimitByIP(middleware.OperatorRateLimit) // 30 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		// Per-service protection state and operator actions
		r.Route("/services", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", serviceHandler.ListServices)

			r.Route("/{service}", func(r chi.Router) {
				r.With(standardRateLimit).Get("/", serviceHandler.GetService)
				r.With(standardRateLimit).Get("/history", serviceHandler.GetHistory)

				// Mutating actions - stricter rate limiting
				r.Group(func(r chi.Router) {
					r.Use(operatorRateLimit)
					r.Use(middleware.RequireJSON)
					r.Post("/check", serviceHandler.CheckService)
					r.Post("/breaker/reset", serviceHandler.ResetBreaker)
					r.Post("/breaker/trip", serviceHandler.TripBreaker)
					r.Post("/queue/clear", serviceHandler.ClearQueue)
					r.Post("/queue/pause", serviceHandler.PauseQueue)
					r.Post("/queue/resume", serviceHandler.ResumeQueue)
				})
			})
		})

		// Bulk operator actions
		r.Route("/admin", func(r chi.Router) {
			r.Use(operatorRateLimit)
			r.Post("/breakers/reset", adminHandler.ResetAllBreakers)
			r.Post("/queues/clear", adminHandler.ClearAllQueues)
			r.Post("/queues/pause", adminHandler.PauseAllQueues)
			r.Post("/queues/resume", adminHandler.ResumeAllQueues)
			r.Post("/health/check", adminHandler.ForceHealthCheck)
		})
	})

	return r
}
