package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"turnstile-service/internal/domain/access"
)

type usageRepo struct {
	mu    sync.Mutex
	byJTI map[string]access.UsageEntry
}

func NewUsageRepo() access.UsageRepository {
	return &usageRepo{
		byJTI: make(map[string]access.UsageEntry),
	}
}

func (r *usageRepo) GetByJTI(ctx context.Context, jti string) (access.UsageEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byJTI[jti]
	if !ok {
		return access.UsageEntry{}, ErrNotFound
	}
	return e, nil
}

func (r *usageRepo) Create(ctx context.Context, e access.UsageEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.JTI == "" {
		return errors.New("jti required")
	}
	if _, exists := r.byJTI[e.JTI]; exists {
		return errors.New("usage entry already exists")
	}
	r.byJTI[e.JTI] = e
	return nil
}

// ConsumeUse: chequeo e incremento dentro del mismo lock, nunca en dos pasos.
func (r *usageRepo) ConsumeUse(ctx context.Context, jti string, at time.Time) (access.UsageEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byJTI[jti]
	if !ok {
		return access.UsageEntry{}, false, ErrNotFound
	}
	if e.UsedCount >= e.MaxUses {
		return e, false, nil
	}

	e.UsedCount++
	e.Status = access.UsageActive
	e.LastSyncAt = at
	r.byJTI[jti] = e
	return e, true, nil
}

func (r *usageRepo) SetStatus(ctx context.Context, jti string, status access.UsageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byJTI[jti]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	r.byJTI[jti] = e
	return nil
}

func (r *usageRepo) UpdateLastSync(ctx context.Context, jti string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byJTI[jti]
	if !ok {
		return ErrNotFound
	}
	e.LastSyncAt = at
	r.byJTI[jti] = e
	return nil
}

func (r *usageRepo) ListStale(ctx context.Context, olderThan time.Time, statuses []access.UsageStatus) ([]access.UsageEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[access.UsageStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	out := make([]access.UsageEntry, 0)
	for _, e := range r.byJTI {
		if len(wanted) > 0 && !wanted[e.Status] {
			continue
		}
		if !e.LastSyncAt.Before(olderThan) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
