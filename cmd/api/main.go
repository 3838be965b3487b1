// Package main provides the entrypoint for the PulseBoard API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/alert"
	"github.com/pulseboard/pulseboard/internal/api"
	"github.com/pulseboard/pulseboard/internal/api/middleware"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/health"
	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/resilience"
	"github.com/pulseboard/pulseboard/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pulseboard-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting PulseBoard API")

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize HTTP server metrics
	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize http metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Initialize resilience-layer metrics
	callMetrics, err := resilience.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize resilience metrics")
		os.Exit(1)
	}

	// Upstream services: SERVICES="payments=https://payments.internal/health,inventory=..."
	upstreams := parseUpstreams(os.Getenv("SERVICES"))
	if len(upstreams) == 0 {
		log.Warn().Msg("no upstream services configured - set SERVICES to enable probing")
	}

	// Health monitor over HTTP probes for every configured upstream
	probes := make(map[string]health.ProbeFunc, len(upstreams))
	for name, url := range upstreams {
		probes[name] = health.NewHTTPProbe(health.HTTPProbeConfig{URL: url})
	}

	monitor := health.NewMonitor(probes, health.MonitorConfig{
		Interval:     envDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		ProbeTimeout: envDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
		Logger:       log,
	})

	// Health history: Postgres when DB_HOST is set, in-memory otherwise
	var repo history.Repository
	if os.Getenv("DB_HOST") != "" {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		repo = history.NewPostgresRepository(pool)
	} else {
		log.Info().Msg("DB_HOST not set - using in-memory health history")
		repo = history.NewInMemoryRepository()
	}

	recorder := history.NewRecorder(repo, history.RecorderConfig{Logger: log})
	defer recorder.Attach(monitor)()

	// Status-transition alerts over Pub/Sub, when configured
	if projectID, topic := os.Getenv("PUBSUB_PROJECT_ID"), os.Getenv("PUBSUB_TOPIC"); projectID != "" && topic != "" {
		sink, err := alert.NewPubSubSink(ctx, projectID, topic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize pubsub alert sink")
		}
		defer sink.Close() //nolint:errcheck // best effort cleanup

		notifier := alert.NewNotifier(sink, alert.NotifierConfig{Logger: log})
		defer notifier.Attach(monitor)()

		log.Info().
			Str("project", projectID).
			Str("topic", topic).
			Msg("status-transition alerts enabled")
	}

	monitor.Start()
	defer monitor.Stop()

	// The resilience layer: per-service breakers and queues behind one client
	breakerCfg := resilience.DefaultBreakerConfig()
	breakerCfg.Logger = log

	queueCfg := resilience.DefaultQueueConfig()
	queueCfg.Logger = log

	client := resilience.NewClient(resilience.ClientConfig{
		Breaker: breakerCfg,
		Queue:   queueCfg,
		Retry:   resilience.DefaultRetryConfig(),
		Monitor: monitor,
		Metrics: callMetrics,
		Logger:  log,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     httpMetrics,
		Client:      client,
		Monitor:     monitor,
		History:     repo,
		Upstreams:   upstreams,
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Int("services", len(upstreams)).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// parseUpstreams parses "name=url,name=url" into a map. Whitespace around
// entries is tolerated; malformed entries are skipped.
func parseUpstreams(raw string) map[string]string {
	upstreams := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			continue
		}
		upstreams[name] = url
	}
	return upstreams
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}
