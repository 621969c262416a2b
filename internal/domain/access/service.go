package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"turnstile-service/internal/domain/credentials"
	"turnstile-service/internal/domain/gates"
	"turnstile-service/internal/platform/logger"
	"turnstile-service/internal/ports/authority"
)

var (
	// ErrGateUnavailable: el portón no existe, está inactivo o en mantenimiento.
	// Se reporta directo al caller, sin log de decisión: el scan no se pudo
	// evaluar, no es un "denied".
	ErrGateUnavailable = errors.New("gate not active or not configured")
)

// PolicyStore es la vista de solo lectura que el pipeline necesita del
// store de políticas (evita acoplar al Service de gates).
type PolicyStore interface {
	GetByGate(ctx context.Context, gate string) (gates.Policy, error)
	IncrementStats(ctx context.Context, gate string, accesses, failedSyncs int64, at time.Time) error
}

// PendingQueue recibe las decisiones tomadas sin confirmación de la autoridad.
// La implementación vive en el paquete pendingsync; acá solo declaramos lo
// que el pipeline necesita (mismo patrón que un lookup chico por interfaz).
type PendingQueue interface {
	Enqueue(ctx context.Context, p PendingAccess) error
}

// PendingAccess es la decisión offline que queda esperando reconciliación.
type PendingAccess struct {
	JTI        string
	Gate       string
	UserID     string
	AccessType Decision
	Timestamp  time.Time
	Reason     string
	Payload    credentials.Payload
}

const (
	DefaultScanTimeout  = 5 * time.Second
	DefaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Service struct {
	logs     LogRepository
	usage    UsageRepository
	policies PolicyStore
	remote   authority.Consumer
	queue    PendingQueue

	log         logger.Logger
	now         func() time.Time
	scanTimeout time.Duration
}

type ServiceConfig struct {
	Logs     LogRepository
	Usage    UsageRepository
	Policies PolicyStore
	Remote   authority.Consumer
	Queue    PendingQueue
	Logger   logger.Logger

	// ScanTimeout se usa cuando la política del portón no trae uno propio.
	ScanTimeout time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	lg := cfg.Logger
	if lg == nil {
		lg = logger.NewFromEnv()
	}
	timeout := cfg.ScanTimeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return &Service{
		logs:        cfg.Logs,
		usage:       cfg.Usage,
		policies:    cfg.Policies,
		remote:      cfg.Remote,
		queue:       cfg.Queue,
		log:         lg,
		now:         time.Now,
		scanTimeout: timeout,
	}
}

type ScanInput struct {
	Token    string
	Gate     string
	DeviceID string
}

// ScanResult es el resultado uniforme de todo scan evaluado.
type ScanResult struct {
	Success      bool
	Message      string
	AccessType   Decision
	AccessMethod Method
	Timestamp    time.Time
	Gate         string
	UserID       string
	Reason       string
	Synced       bool
	Payload      credentials.Payload
}

// Scan procesa un evento de scan de punta a punta:
// política del portón → decode → chequeo estructural → intento remoto →
// fallback offline. Ninguna salida evaluada queda sin registro: o hay log
// autoritativo, o hay log + registro pendiente de sincronización.
func (s *Service) Scan(ctx context.Context, in ScanInput) (ScanResult, error) {
	gate := strings.TrimSpace(in.Gate)
	now := s.now().UTC()

	lg := s.log.With(map[string]any{"gate": gate, "device_id": in.DeviceID})

	pol, err := s.policies.GetByGate(ctx, gate)
	if err != nil || !pol.IsActive || pol.MaintenanceMode {
		return ScanResult{}, ErrGateUnavailable
	}

	payload, err := credentials.Decode(in.Token)
	if err != nil {
		lg.Warn("scan rejected: malformed token", map[string]any{"error": err.Error()})
		return ScanResult{}, err
	}

	lg = lg.With(map[string]any{"jti": payload.JTI})

	if verr := credentials.Validate(payload, gate, now); verr != nil {
		// Denegación local: se loguea la decisión pero no se contacta a la
		// autoridad ni se encola nada; un token estructuralmente inválido
		// no se reintenta.
		res := s.deniedResult(payload, gate, now, MethodOffline, verr.Error(), false)
		if aerr := s.appendLog(ctx, res, nil); aerr != nil {
			return ScanResult{}, aerr
		}
		s.bumpStats(ctx, gate, now)
		lg.Info("scan denied by structural check", map[string]any{"reason": verr.Error()})
		return res, nil
	}

	// Sin autoridad configurada, la decisión es siempre offline.
	if s.remote == nil {
		lg.Warn("no remote authority configured, validating offline", nil)
		return s.scanOffline(ctx, payload, gate, now, lg)
	}

	// Intento remoto: un solo "consume" con timeout corto.
	timeout := pol.ValidationTimeout
	if timeout <= 0 {
		timeout = s.scanTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	consumed, cerr := s.remote.Consume(cctx, authority.ConsumeRequest{
		JTI:  payload.JTI,
		Gate: gate,
		At:   now,
	})
	cancel()

	if cerr == nil {
		res := ScanResult{
			Success:      true,
			Message:      "access granted via qr manager",
			AccessType:   DecisionGranted,
			AccessMethod: MethodManager,
			Timestamp:    now,
			Gate:         gate,
			UserID:       userID(payload),
			Synced:       true,
			Payload:      payload,
		}
		if aerr := s.appendLog(ctx, res, consumed.Body); aerr != nil {
			return ScanResult{}, aerr
		}
		s.bumpStats(ctx, gate, now)
		lg.Info("scan granted by qr manager", nil)
		return res, nil
	}

	var rejected *authority.RejectedError
	if errors.As(cerr, &rejected) {
		// El "no" de la autoridad es final: no hay fallback ni reintento.
		reason := rejected.Message
		if reason == "" {
			reason = "qr code rejected by manager"
		}
		res := s.deniedResult(payload, gate, now, MethodManager, reason, true)
		if aerr := s.appendLog(ctx, res, nil); aerr != nil {
			return ScanResult{}, aerr
		}
		s.bumpStats(ctx, gate, now)
		lg.Info("scan denied by qr manager", map[string]any{"kind": string(rejected.Kind), "reason": reason})
		return res, nil
	}

	// Falla de conectividad: único disparador del camino offline.
	lg.Warn("qr manager unreachable, falling back to offline validation", map[string]any{"error": cerr.Error()})
	return s.scanOffline(ctx, payload, gate, now, lg)
}

// scanOffline decide contra el cache local y deja todo encolado para
// reconciliación, sea cual sea el resultado.
func (s *Service) scanOffline(ctx context.Context, payload credentials.Payload, gate string, now time.Time, lg logger.Logger) (ScanResult, error) {
	granted, reason, err := s.validateOffline(ctx, payload, gate, now)
	if err != nil {
		return ScanResult{}, err
	}

	var res ScanResult
	if granted {
		res = ScanResult{
			Success:      true,
			Message:      "access granted via offline validation",
			AccessType:   DecisionGranted,
			AccessMethod: MethodOffline,
			Timestamp:    now,
			Gate:         gate,
			UserID:       userID(payload),
			Synced:       false,
			Payload:      payload,
		}
	} else {
		res = s.deniedResult(payload, gate, now, MethodOffline, reason, false)
	}

	if qerr := s.queue.Enqueue(ctx, PendingAccess{
		JTI:        payload.JTI,
		Gate:       gate,
		UserID:     res.UserID,
		AccessType: res.AccessType,
		Timestamp:  now,
		Reason:     res.Reason,
		Payload:    payload,
	}); qerr != nil {
		return ScanResult{}, qerr
	}
	if aerr := s.appendLog(ctx, res, nil); aerr != nil {
		return ScanResult{}, aerr
	}
	s.bumpStats(ctx, gate, now)

	if granted {
		lg.Info("scan granted offline", nil)
	} else {
		lg.Info("scan denied offline", map[string]any{"reason": res.Reason})
	}
	return res, nil
}

func (s *Service) validateOffline(ctx context.Context, payload credentials.Payload, gate string, now time.Time) (bool, string, error) {
	// Re-chequeo estructural contra la ventana del token (barato, y deja el
	// camino offline autocontenido).
	if err := credentials.Validate(payload, gate, now); err != nil {
		return false, err.Error(), nil
	}

	entry, err := s.loadOrSeedEntry(ctx, payload, gate, now)
	if err != nil {
		return false, "", err
	}

	// REVOKED/EXPIRED son estados administrados remotamente (o ventana ya
	// cerrada); nunca se levantan solos desde un chequeo estructural.
	switch entry.Status {
	case UsageRevoked:
		return false, "qr code revoked by administrator", nil
	case UsageExpired:
		return false, "qr code expired", nil
	}

	if !entry.WindowStart.IsZero() && now.Before(entry.WindowStart) {
		return false, "qr code not yet valid - before time window", nil
	}
	if !entry.WindowEnd.IsZero() && now.After(entry.WindowEnd) {
		// Pegajoso: pasada la ventana el registro queda EXPIRED y no se
		// reabre, aunque lleguen scans con reloj corrido.
		if serr := s.usage.SetStatus(ctx, entry.JTI, UsageExpired); serr != nil {
			return false, "", serr
		}
		return false, "qr code expired - outside time window", nil
	}

	updated, ok, err := s.usage.ConsumeUse(ctx, entry.JTI, now)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, fmt.Sprintf("qr code already used the maximum number of times (%d/%d)", updated.UsedCount, updated.MaxUses), nil
	}
	return true, "", nil
}

// loadOrSeedEntry busca el registro de consumo o lo crea a partir del propio
// token la primera vez que esa credencial se valida offline.
func (s *Service) loadOrSeedEntry(ctx context.Context, payload credentials.Payload, gate string, now time.Time) (UsageEntry, error) {
	entry, err := s.usage.GetByJTI(ctx, payload.JTI)
	if err == nil {
		return entry, nil
	}

	maxUses := payload.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	allowedGate := payload.Gate
	if allowedGate == "" {
		allowedGate = gate
	}

	seed := UsageEntry{
		JTI:         payload.JTI,
		VisitID:     payload.Subject,
		VisitName:   payload.Name,
		Gate:        allowedGate,
		WindowStart: payload.NotBefore,
		WindowEnd:   payload.ExpiresAt,
		MaxUses:     maxUses,
		UsedCount:   0,
		Status:      UsagePending,
		LastSyncAt:  now,
		CreatedAt:   now,
	}
	if cerr := s.usage.Create(ctx, seed); cerr != nil {
		// Carrera con otro scan del mismo JTI: el registro ya existe.
		if entry, gerr := s.usage.GetByJTI(ctx, payload.JTI); gerr == nil {
			return entry, nil
		}
		return UsageEntry{}, cerr
	}
	return seed, nil
}

// History devuelve el historial de accesos, más recientes primero.
func (s *Service) History(ctx context.Context, gate string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.logs.ListRecent(ctx, strings.TrimSpace(gate), limit)
}

func (s *Service) deniedResult(payload credentials.Payload, gate string, now time.Time, method Method, reason string, synced bool) ScanResult {
	return ScanResult{
		Success:      false,
		Message:      reason,
		AccessType:   DecisionDenied,
		AccessMethod: method,
		Timestamp:    now,
		Gate:         gate,
		UserID:       userID(payload),
		Reason:       reason,
		Synced:       synced,
		Payload:      payload,
	}
}

func (s *Service) appendLog(ctx context.Context, res ScanResult, managerBody []byte) error {
	// El ID lo asigna el repositorio al insertar.
	entry := LogEntry{
		JTI:             res.Payload.JTI,
		Gate:            res.Gate,
		UserID:          res.UserID,
		AccessType:      res.AccessType,
		AccessMethod:    res.AccessMethod,
		Timestamp:       res.Timestamp,
		Reason:          res.Reason,
		Synced:          res.Synced,
		Payload:         res.Payload,
		ManagerResponse: managerBody,
	}
	if res.Synced {
		ts := res.Timestamp
		entry.SyncTimestamp = &ts
	}
	return s.logs.Append(ctx, entry)
}

func (s *Service) bumpStats(ctx context.Context, gate string, now time.Time) {
	if err := s.policies.IncrementStats(ctx, gate, 1, 0, now); err != nil {
		s.log.Warn("failed to bump gate stats", map[string]any{"gate": gate, "error": err.Error()})
	}
}

func userID(p credentials.Payload) string {
	if p.UserID != "" {
		return p.UserID
	}
	if p.Subject != "" {
		return p.Subject
	}
	return "unknown"
}
