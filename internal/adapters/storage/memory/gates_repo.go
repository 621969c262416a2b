package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"turnstile-service/internal/domain/gates"
)

type gatesRepo struct {
	mu     sync.RWMutex
	byGate map[string]gates.Policy
}

func NewGatesRepo() gates.Repository {
	return &gatesRepo{
		byGate: make(map[string]gates.Policy),
	}
}

func (r *gatesRepo) Create(ctx context.Context, p gates.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Gate == "" {
		return errors.New("gate required")
	}
	if _, exists := r.byGate[p.Gate]; exists {
		return errors.New("policy already exists")
	}
	r.byGate[p.Gate] = p
	return nil
}

func (r *gatesRepo) Update(ctx context.Context, p gates.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Gate == "" {
		return errors.New("gate required")
	}
	if _, exists := r.byGate[p.Gate]; !exists {
		return ErrNotFound
	}
	r.byGate[p.Gate] = p
	return nil
}

func (r *gatesRepo) GetByGate(ctx context.Context, gate string) (gates.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byGate[gate]
	if !ok {
		return gates.Policy{}, ErrNotFound
	}
	return p, nil
}

func (r *gatesRepo) List(ctx context.Context) ([]gates.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]gates.Policy, 0, len(r.byGate))
	for _, p := range r.byGate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gate < out[j].Gate })
	return out, nil
}

func (r *gatesRepo) Delete(ctx context.Context, gate string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byGate[gate]; !exists {
		return ErrNotFound
	}
	delete(r.byGate, gate)
	return nil
}

func (r *gatesRepo) IncrementStats(ctx context.Context, gate string, accesses, failedSyncs int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byGate[gate]
	if !ok {
		return ErrNotFound
	}
	p.TotalAccesses += accesses
	p.FailedSyncs += failedSyncs
	t := at
	p.LastSyncAt = &t
	p.UpdatedAt = at
	r.byGate[gate] = p
	return nil
}
