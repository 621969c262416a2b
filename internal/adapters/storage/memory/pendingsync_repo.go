package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"turnstile-service/internal/domain/pendingsync"
)

type pendingSyncRepo struct {
	mu   sync.Mutex
	byID map[string]pendingsync.Record
}

func NewPendingSyncRepo() pendingsync.Repository {
	return &pendingSyncRepo{
		byID: make(map[string]pendingsync.Record),
	}
}

func (r *pendingSyncRepo) Create(ctx context.Context, rec pendingsync.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		return errors.New("record id required")
	}
	if _, exists := r.byID[rec.ID]; exists {
		return errors.New("record already exists")
	}
	r.byID[rec.ID] = rec
	return nil
}

func (r *pendingSyncRepo) List(ctx context.Context, f pendingsync.Filter) ([]pendingsync.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := f.Status
	if status == "" {
		status = pendingsync.StatusPending
	}

	out := make([]pendingsync.Record, 0)
	for _, rec := range r.byID {
		if rec.Status != status {
			continue
		}
		if f.Gate != "" && rec.Gate != f.Gate {
			continue
		}
		if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.Timestamp.After(f.To) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Claim: transición condicional from → processing, por registro.
func (r *pendingSyncRepo) Claim(ctx context.Context, id string, from pendingsync.Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return false, nil // borrado por otro corredor: no-op
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = pendingsync.StatusProcessing
	rec.LastRetryAt = at
	r.byID[id] = rec
	return true, nil
}

func (r *pendingSyncRepo) Release(ctx context.Context, id string, retryCount int, status pendingsync.Status, errorMessage string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.RetryCount = retryCount
	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.LastRetryAt = at
	r.byID[id] = rec
	return nil
}

func (r *pendingSyncRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.byID {
		if rec.Status != pendingsync.StatusProcessing {
			continue
		}
		if !rec.LastRetryAt.Before(olderThan) {
			continue
		}
		rec.Status = pendingsync.StatusPending
		r.byID[id] = rec
		n++
	}
	return n, nil
}

func (r *pendingSyncRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *pendingSyncRepo) CountByStatus(ctx context.Context, gate string, status pendingsync.Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, rec := range r.byID {
		if rec.Status != status {
			continue
		}
		if gate != "" && rec.Gate != gate {
			continue
		}
		n++
	}
	return n, nil
}

func (r *pendingSyncRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped int64
	for id, rec := range r.byID {
		if rec.Status != pendingsync.StatusCompleted && rec.Status != pendingsync.StatusFailed {
			continue
		}
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		delete(r.byID, id)
		dropped++
	}
	return dropped, nil
}
