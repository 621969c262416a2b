package pendingsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"turnstile-service/internal/domain/access"
	"turnstile-service/internal/platform/logger"
	"turnstile-service/internal/ports/authority"

	"github.com/google/uuid"
)

const (
	DefaultBatchLimit  = 100
	DefaultMaxRetries  = 5
	DefaultSyncTimeout = 10 * time.Second
	DefaultStaleAfter  = 5 * time.Minute

	// Cota para la lista de errores que devuelve un batch.
	maxBatchErrors = 25
)

// ErrNoAuthority indica que no hay autoridad remota configurada: sin ella
// no hay contra quién reconciliar.
var ErrNoAuthority = errors.New("remote authority not configured")

type Service struct {
	repo     Repository
	logs     access.LogRepository
	usage    access.UsageRepository
	policies access.PolicyStore
	remote   authority.Consumer

	log logger.Logger
	now func() time.Time

	batchLimit  int
	maxRetries  int
	syncTimeout time.Duration
	staleAfter  time.Duration
}

type ServiceConfig struct {
	Repo     Repository
	Logs     access.LogRepository
	Usage    access.UsageRepository
	Policies access.PolicyStore
	Remote   authority.Consumer
	Logger   logger.Logger

	BatchLimit  int
	MaxRetries  int
	SyncTimeout time.Duration
	StaleAfter  time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	lg := cfg.Logger
	if lg == nil {
		lg = logger.NewFromEnv()
	}
	s := &Service{
		repo:        cfg.Repo,
		logs:        cfg.Logs,
		usage:       cfg.Usage,
		policies:    cfg.Policies,
		remote:      cfg.Remote,
		log:         lg,
		now:         time.Now,
		batchLimit:  cfg.BatchLimit,
		maxRetries:  cfg.MaxRetries,
		syncTimeout: cfg.SyncTimeout,
		staleAfter:  cfg.StaleAfter,
	}
	if s.batchLimit <= 0 {
		s.batchLimit = DefaultBatchLimit
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = DefaultSyncTimeout
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	return s
}

// Enqueue implementa access.PendingQueue: toda decisión offline entra acá
// con retry-count cero, lista para el próximo barrido.
func (s *Service) Enqueue(ctx context.Context, p access.PendingAccess) error {
	now := s.now().UTC()
	return s.repo.Create(ctx, Record{
		ID:          uuid.NewString(),
		JTI:         p.JTI,
		Gate:        p.Gate,
		UserID:      p.UserID,
		AccessType:  p.AccessType,
		Timestamp:   p.Timestamp,
		Reason:      p.Reason,
		Payload:     p.Payload,
		RetryCount:  0,
		LastRetryAt: now,
		Status:      StatusPending,
		CreatedAt:   now,
	})
}

// Request filtra qué registros sincronizar en un batch.
type Request struct {
	Gate   string
	Limit  int
	From   time.Time
	To     time.Time
	Status Status
}

// Result es el agregado de un batch de reconciliación.
type Result struct {
	Success        bool
	Message        string
	SyncedCount    int
	FailedCount    int
	TotalProcessed int
	Errors         []string
}

// Sync drena un batch de registros pendientes contra la autoridad remota.
// Las fallas por registro quedan aisladas: solo no poder leer la cola
// es fatal para el batch.
func (s *Service) Sync(ctx context.Context, req Request) (Result, error) {
	if s.remote == nil {
		return Result{}, ErrNoAuthority
	}
	status := req.Status
	if status == "" {
		status = StatusPending
	}
	limit := req.Limit
	if limit <= 0 || limit > s.batchLimit {
		limit = s.batchLimit
	}

	if status == StatusPending {
		// Registros que otra corrida reclamó y nunca soltó (crash a mitad
		// de camino) vuelven a pending antes de leer el batch.
		requeued, err := s.repo.RequeueStale(ctx, s.now().UTC().Add(-s.staleAfter))
		if err != nil {
			s.log.Warn("failed to requeue stalled records", map[string]any{"error": err.Error()})
		} else if requeued > 0 {
			s.log.Warn("requeued stalled processing records", map[string]any{"count": requeued})
		}
	}

	records, err := s.repo.List(ctx, Filter{
		Gate:   strings.TrimSpace(req.Gate),
		Status: status,
		From:   req.From,
		To:     req.To,
		Limit:  limit,
	})
	if err != nil {
		return Result{}, fmt.Errorf("reading pending queue: %w", err)
	}

	if len(records) == 0 {
		return Result{
			Success: true,
			Message: "no pending records found",
		}, nil
	}

	res := Result{TotalProcessed: len(records)}
	for _, rec := range records {
		s.syncOne(ctx, rec, status, &res)
	}

	res.Success = res.FailedCount == 0
	res.Message = fmt.Sprintf("sync finished: %d synced, %d failed", res.SyncedCount, res.FailedCount)
	return res, nil
}

func (s *Service) syncOne(ctx context.Context, rec Record, from Status, res *Result) {
	now := s.now().UTC()

	claimed, err := s.repo.Claim(ctx, rec.ID, from, now)
	if err != nil {
		res.FailedCount++
		s.addError(res, rec, err)
		return
	}
	if !claimed {
		// Otro barrido concurrente ya lo tiene (o ya terminó): no es un error.
		res.TotalProcessed--
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	consumed, cerr := s.remote.Consume(cctx, authority.ConsumeRequest{
		JTI:  rec.JTI,
		Gate: rec.Gate,
		At:   rec.Timestamp,
	})
	cancel()

	if cerr == nil {
		// La autoridad confirmó retroactivamente: log sincronizado y afuera.
		if err := s.appendReconciledLog(ctx, rec, rec.AccessType, rec.Reason, consumed.Body, now); err != nil {
			s.release(ctx, rec, err, res)
			return
		}
		if err := s.repo.Delete(ctx, rec.ID); err != nil {
			s.park(ctx, rec, err, now)
		}
		res.SyncedCount++
		s.log.Info("pending record synced", map[string]any{"jti": rec.JTI, "gate": rec.Gate})
		return
	}

	var rejected *authority.RejectedError
	if errors.As(cerr, &rejected) {
		// Rechazo definitivo: el acceso físico ya ocurrió, pero la
		// auditoría tiene que reflejar el veredicto real de la autoridad.
		reason := rejected.Message
		if reason == "" {
			reason = cerr.Error()
		}
		if err := s.appendReconciledLog(ctx, rec, access.DecisionDenied, reason, nil, now); err != nil {
			s.release(ctx, rec, err, res)
			return
		}
		if err := s.repo.Delete(ctx, rec.ID); err != nil {
			s.park(ctx, rec, err, now)
		}
		res.SyncedCount++
		s.log.Info("pending record resolved with definitive rejection", map[string]any{
			"jti": rec.JTI, "gate": rec.Gate, "kind": string(rejected.Kind),
		})
		return
	}

	// Falla transitoria: reintento acotado.
	s.release(ctx, rec, cerr, res)
}

// release devuelve el registro a pending o lo marca failed si agotó reintentos.
func (s *Service) release(ctx context.Context, rec Record, cause error, res *Result) {
	now := s.now().UTC()
	res.FailedCount++
	s.addError(res, rec, cause)

	retry := rec.RetryCount + 1
	if retry >= s.maxRetries {
		// Queda en failed, fuera del barrido normal pero recuperable a mano
		// vía un batch con status=failed; Cleanup lo purga al vencer la retención.
		if err := s.repo.Release(ctx, rec.ID, retry, StatusFailed, cause.Error(), now); err != nil {
			s.log.Error("failed to park exhausted pending record", map[string]any{"jti": rec.JTI, "error": err.Error()})
			return
		}
		if err := s.policies.IncrementStats(ctx, rec.Gate, 0, 1, now); err != nil {
			s.log.Warn("failed to bump gate sync stats", map[string]any{"gate": rec.Gate, "error": err.Error()})
		}
		s.log.Warn("pending record marked failed after max retries", map[string]any{
			"jti": rec.JTI, "gate": rec.Gate, "retries": retry,
		})
		return
	}

	if err := s.repo.Release(ctx, rec.ID, retry, StatusPending, cause.Error(), now); err != nil {
		s.log.Error("failed to reschedule pending record", map[string]any{"jti": rec.JTI, "error": err.Error()})
	}
}

// park deja en completed un registro ya reconciliado que no se pudo borrar.
// Volverlo a pending duplicaría el consume remoto; Cleanup lo purga después.
func (s *Service) park(ctx context.Context, rec Record, cause error, now time.Time) {
	if err := s.repo.Release(ctx, rec.ID, rec.RetryCount, StatusCompleted, cause.Error(), now); err != nil {
		s.log.Error("failed to park reconciled record", map[string]any{"jti": rec.JTI, "error": err.Error()})
		return
	}
	s.log.Warn("reconciled record parked as completed", map[string]any{"jti": rec.JTI, "error": cause.Error()})
}

func (s *Service) appendReconciledLog(ctx context.Context, rec Record, decision access.Decision, reason string, managerBody []byte, now time.Time) error {
	ts := now
	return s.logs.Append(ctx, access.LogEntry{
		JTI:             rec.JTI,
		Gate:            rec.Gate,
		UserID:          rec.UserID,
		AccessType:      decision,
		AccessMethod:    access.MethodManager,
		Timestamp:       rec.Timestamp,
		Reason:          reason,
		Synced:          true,
		SyncTimestamp:   &ts,
		Payload:         rec.Payload,
		ManagerResponse: managerBody,
	})
}

func (s *Service) addError(res *Result, rec Record, err error) {
	if len(res.Errors) >= maxBatchErrors {
		return
	}
	res.Errors = append(res.Errors, fmt.Sprintf("record %s: %v", rec.JTI, err))
}

// StatusResult son los contadores de sincronización.
type StatusResult struct {
	TotalPending int64
	TotalSynced  int64
	TotalFailed  int64
	LastSyncAt   *time.Time
}

func (s *Service) Status(ctx context.Context, gate string) (StatusResult, error) {
	gate = strings.TrimSpace(gate)

	pending, err := s.repo.CountByStatus(ctx, gate, StatusPending)
	if err != nil {
		return StatusResult{}, err
	}
	failed, err := s.repo.CountByStatus(ctx, gate, StatusFailed)
	if err != nil {
		return StatusResult{}, err
	}
	synced, err := s.logs.CountSynced(ctx, gate)
	if err != nil {
		return StatusResult{}, err
	}
	last, err := s.logs.LastSyncedAt(ctx, gate)
	if err != nil {
		return StatusResult{}, err
	}

	return StatusResult{
		TotalPending: pending,
		TotalSynced:  synced,
		TotalFailed:  failed,
		LastSyncAt:   last,
	}, nil
}

// PendingCount es el tamaño del backlog (lo usa el scheduler al arrancar).
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, "", StatusPending)
}

// RefreshCache revalida contra la autoridad los registros de consumo todavía
// abiertos (ACTIVE/PENDING) que llevan tiempo sin sincronizar, solo para
// traer REVOKED/EXPIRED antes de que la propia ventana lo revele.
// Best-effort: nunca bloquea scans y los errores por registro se ignoran.
func (s *Service) RefreshCache(ctx context.Context) error {
	if s.remote == nil {
		return ErrNoAuthority
	}
	now := s.now().UTC()

	stale, err := s.usage.ListStale(ctx, now.Add(-s.staleAfter), []access.UsageStatus{access.UsageActive, access.UsagePending})
	if err != nil {
		return err
	}

	for _, entry := range stale {
		cctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
		_, cerr := s.remote.Consume(cctx, authority.ConsumeRequest{
			JTI:  entry.JTI,
			Gate: entry.Gate,
			At:   now,
		})
		cancel()

		if cerr == nil {
			if err := s.usage.UpdateLastSync(ctx, entry.JTI, now); err != nil {
				s.log.Warn("failed to touch usage entry", map[string]any{"jti": entry.JTI, "error": err.Error()})
			}
			continue
		}

		var rejected *authority.RejectedError
		if !errors.As(cerr, &rejected) {
			continue // transitorio, lo verá otro barrido
		}

		switch rejected.Kind {
		case authority.RejectionExhausted:
			if err := s.usage.SetStatus(ctx, entry.JTI, access.UsageExpired); err != nil {
				s.log.Warn("failed to expire usage entry", map[string]any{"jti": entry.JTI, "error": err.Error()})
			}
		case authority.RejectionRevoked:
			if err := s.usage.SetStatus(ctx, entry.JTI, access.UsageRevoked); err != nil {
				s.log.Warn("failed to revoke usage entry", map[string]any{"jti": entry.JTI, "error": err.Error()})
			}
		}
	}
	return nil
}

// Cleanup purga logs viejos y registros pendientes terminales fuera de la
// ventana de retención. Los registros de consumo no se borran nunca acá.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	droppedRecords, err := s.repo.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	droppedLogs, err := s.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	s.log.Info("cleanup finished", map[string]any{
		"cutoff":          cutoff.Format(time.RFC3339),
		"dropped_records": droppedRecords,
		"dropped_logs":    droppedLogs,
	})
	return nil
}
