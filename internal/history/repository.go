// Package history persists health check observations so the dashboard can
// chart service status over time. Records are append-only; retention is
// handled by periodic pruning.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/pulseboard/pulseboard/internal/health"
)

// ErrNoRecords is returned when a service has no recorded checks.
var ErrNoRecords = errors.New("no history records for service")

// Record is one persisted health check observation.
type Record struct {
	ID           string         `json:"id"`
	Service      string         `json:"service"`
	Status       health.Status  `json:"status"`
	ResponseTime time.Duration  `json:"responseTime"`
	CheckedAt    time.Time      `json:"checkedAt"`
	Details      map[string]any `json:"details,omitempty"`
}

// Filter narrows a history listing.
type Filter struct {
	// Since excludes records checked before this time. Zero means no bound.
	Since time.Time

	// Limit caps the number of returned records. Zero or negative means
	// the repository default of 100.
	Limit int
}

// Repository defines the interface for health history storage.
type Repository interface {
	// Insert stores a batch of records from one monitor cycle.
	Insert(ctx context.Context, records []Record) error

	// ListByService returns records for one service, newest first.
	ListByService(ctx context.Context, service string, filter Filter) ([]Record, error)

	// Latest returns the most recent record for a service.
	Latest(ctx context.Context, service string) (*Record, error)

	// Prune deletes records checked before the cutoff and reports how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

const defaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
