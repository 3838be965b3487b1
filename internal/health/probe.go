package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPProbeConfig configures an HTTP health probe.
type HTTPProbeConfig struct {
	// URL is the endpoint to probe, typically a /health path.
	URL string

	// Client defaults to a plain http.Client. The per-probe timeout comes
	// from the monitor's context, not from the client.
	Client *http.Client

	// DegradedAfter marks the probe degraded when the endpoint answers
	// 2xx slower than this. Zero disables the latency check.
	DegradedAfter time.Duration
}

// NewHTTPProbe returns a ProbeFunc that GETs the configured URL.
// 2xx is healthy (or degraded when slow), other statuses are unhealthy,
// and transport errors surface as errors for the monitor to record.
func NewHTTPProbe(cfg HTTPProbeConfig) ProbeFunc {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return func(ctx context.Context) (Status, map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, http.NoBody)
		if err != nil {
			return StatusUnhealthy, nil, err
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return StatusUnhealthy, nil, err
		}
		defer resp.Body.Close()
		elapsed := time.Since(start)

		details := map[string]any{
			"statusCode": resp.StatusCode,
			"url":        cfg.URL,
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return StatusUnhealthy, details, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		if cfg.DegradedAfter > 0 && elapsed > cfg.DegradedAfter {
			return StatusDegraded, details, nil
		}
		return StatusHealthy, details, nil
	}
}
