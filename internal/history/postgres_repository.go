package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseboard/pulseboard/internal/health"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert stores a batch of records from one monitor cycle atomically.
func (r *PostgresRepository) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	query := `
		INSERT INTO health_history (id, service, status, response_time_ms, checked_at, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, rec := range records {
		var detailsJSON []byte
		if rec.Details != nil {
			detailsJSON, err = json.Marshal(rec.Details)
			if err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, query,
			rec.ID,
			rec.Service,
			string(rec.Status),
			rec.ResponseTime.Milliseconds(),
			rec.CheckedAt,
			detailsJSON,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListByService returns records for one service, newest first.
func (r *PostgresRepository) ListByService(ctx context.Context, service string, filter Filter) ([]Record, error) {
	query := `
		SELECT id, service, status, response_time_ms, checked_at, details
		FROM health_history
		WHERE service = $1 AND checked_at >= $2
		ORDER BY checked_at DESC
		LIMIT $3
	`

	since := filter.Since
	if since.IsZero() {
		since = time.Unix(0, 0)
	}

	rows, err := r.pool.Query(ctx, query, service, since, filter.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// Latest returns the most recent record for a service.
func (r *PostgresRepository) Latest(ctx context.Context, service string) (*Record, error) {
	query := `
		SELECT id, service, status, response_time_ms, checked_at, details
		FROM health_history
		WHERE service = $1
		ORDER BY checked_at DESC
		LIMIT 1
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, service))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecords
		}
		return nil, err
	}

	return &rec, nil
}

// Prune deletes records checked before the cutoff.
func (r *PostgresRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM health_history WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec         Record
		status      string
		responseMs  int64
		detailsJSON []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.Service,
		&status,
		&responseMs,
		&rec.CheckedAt,
		&detailsJSON,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Status = health.Status(status)
	rec.ResponseTime = time.Duration(responseMs) * time.Millisecond

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
			return Record{}, err
		}
	}

	return rec, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
