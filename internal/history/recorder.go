package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/health"
)

// RecorderConfig holds configuration for the history recorder.
type RecorderConfig struct {
	// WriteTimeout bounds each insert.
	// Default: 5 seconds
	WriteTimeout time.Duration

	Logger zerolog.Logger
}

// Recorder persists every completed monitor cycle to a Repository. It is
// attached to a health.Monitor via Attach and detached by calling the
// returned function.
type Recorder struct {
	repo    Repository
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRecorder creates a recorder writing to the given repository.
func NewRecorder(repo Repository, cfg RecorderConfig) *Recorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Recorder{
		repo:    repo,
		timeout: cfg.WriteTimeout,
		logger:  cfg.Logger.With().Str("component", "history_recorder").Logger(),
	}
}

// Attach subscribes the recorder to the monitor. A failed insert is logged
// and dropped; history is best-effort and never blocks monitoring.
func (r *Recorder) Attach(monitor *health.Monitor) func() {
	return monitor.Subscribe(func(checks map[string]health.Check) {
		r.record(checks)
	})
}

func (r *Recorder) record(checks map[string]health.Check) {
	records := make([]Record, 0, len(checks))
	for _, check := range checks {
		if check.Timestamp.IsZero() {
			continue
		}
		records = append(records, Record{
			ID:           uuid.NewString(),
			Service:      check.Service,
			Status:       check.Status,
			ResponseTime: check.ResponseTime,
			CheckedAt:    check.Timestamp,
			Details:      check.Details,
		})
	}
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.repo.Insert(ctx, records); err != nil {
		r.logger.Error().Err(err).Int("records", len(records)).Msg("failed to persist health history")
	}
}
