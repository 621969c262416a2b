package gates

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, p Policy) error
	Update(ctx context.Context, p Policy) error
	GetByGate(ctx context.Context, gate string) (Policy, error)
	List(ctx context.Context) ([]Policy, error)
	Delete(ctx context.Context, gate string) error

	// IncrementStats suma contadores y actualiza LastSyncAt en una sola operación.
	IncrementStats(ctx context.Context, gate string, accesses, failedSyncs int64, at time.Time) error
}
