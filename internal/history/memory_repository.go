package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository used in
// tests and when no database is configured. Entries per service are capped
// so an instance without pruning cannot grow without bound.
type InMemoryRepository struct {
	mu        sync.RWMutex
	byService map[string][]Record
	maxPer    int
}

const defaultMaxPerService = 1000

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byService: make(map[string][]Record),
		maxPer:    defaultMaxPerService,
	}
}

// Insert stores a batch of records from one monitor cycle.
func (r *InMemoryRepository) Insert(_ context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		list := append(r.byService[rec.Service], rec)
		if len(list) > r.maxPer {
			list = list[len(list)-r.maxPer:]
		}
		r.byService[rec.Service] = list
	}
	return nil
}

// ListByService returns records for one service, newest first.
func (r *InMemoryRepository) ListByService(_ context.Context, service string, filter Filter) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Record
	for _, rec := range r.byService[service] {
		if !filter.Since.IsZero() && rec.CheckedAt.Before(filter.Since) {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CheckedAt.After(result[j].CheckedAt)
	})

	if limit := filter.limit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Latest returns the most recent record for a service.
func (r *InMemoryRepository) Latest(_ context.Context, service string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byService[service]
	if len(list) == 0 {
		return nil, ErrNoRecords
	}

	latest := list[0]
	for _, rec := range list[1:] {
		if rec.CheckedAt.After(latest.CheckedAt) {
			latest = rec
		}
	}
	return &latest, nil
}

// Prune deletes records checked before the cutoff.
func (r *InMemoryRepository) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for service, list := range r.byService {
		kept := list[:0]
		for _, rec := range list {
			if rec.CheckedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(r.byService, service)
		} else {
			r.byService[service] = kept
		}
	}
	return removed, nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
