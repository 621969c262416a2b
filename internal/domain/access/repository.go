package access

import (
	"context"
	"time"
)

type LogRepository interface {
	Append(ctx context.Context, e LogEntry) error

	// ListRecent devuelve entradas ordenadas por timestamp descendente.
	// gate vacío = todos los portones.
	ListRecent(ctx context.Context, gate string, limit int) ([]LogEntry, error)

	CountSynced(ctx context.Context, gate string) (int64, error)
	LastSyncedAt(ctx context.Context, gate string) (*time.Time, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type UsageRepository interface {
	GetByJTI(ctx context.Context, jti string) (UsageEntry, error)
	Create(ctx context.Context, e UsageEntry) error

	// ConsumeUse incrementa UsedCount solo si UsedCount < MaxUses, marca el
	// registro ACTIVE y actualiza LastSyncAt, todo en una sola operación
	// condicional. Devuelve el registro resultante y si el uso fue consumido.
	// Es el único punto que separa "offline" de "double-spend": la
	// implementación debe serializar por JTI.
	ConsumeUse(ctx context.Context, jti string, at time.Time) (UsageEntry, bool, error)

	SetStatus(ctx context.Context, jti string, status UsageStatus) error
	UpdateLastSync(ctx context.Context, jti string, at time.Time) error

	// ListStale devuelve registros en alguno de los estados dados cuyo
	// LastSyncAt es anterior a olderThan.
	ListStale(ctx context.Context, olderThan time.Time, statuses []UsageStatus) ([]UsageEntry, error)
}
