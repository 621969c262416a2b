package pendingsync

import (
	"context"
	"time"
)

// Filter acota qué registros drena un batch de reconciliación.
type Filter struct {
	Gate   string
	Status Status // vacío = pending
	From   time.Time
	To     time.Time
	Limit  int
}

type Repository interface {
	Create(ctx context.Context, r Record) error

	// List devuelve registros que matchean el filtro, ordenados por
	// Timestamp ascendente (los más viejos primero).
	List(ctx context.Context, f Filter) ([]Record, error)

	// Claim pasa el registro de from a processing de forma condicional.
	// Devuelve false si otro corredor ya lo reclamó (o cambió de estado):
	// el reclamo es por registro, no un lock global de la cola. Con
	// from=processing el reclamo siempre re-toma el registro: es la vía
	// de recuperación para corridas que murieron a mitad de camino.
	Claim(ctx context.Context, id string, from Status, at time.Time) (bool, error)

	// Release devuelve el registro a un estado no-processing con el
	// contador de reintentos y el último error actualizados.
	Release(ctx context.Context, id string, retryCount int, status Status, errorMessage string, at time.Time) error

	// RequeueStale devuelve a pending los registros que quedaron en
	// processing antes de olderThan (corridas que nunca terminaron).
	RequeueStale(ctx context.Context, olderThan time.Time) (int64, error)

	Delete(ctx context.Context, id string) error

	CountByStatus(ctx context.Context, gate string, status Status) (int64, error)

	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
