package access

import (
	"encoding/json"
	"time"

	"turnstile-service/internal/domain/credentials"
)

// Decision del scan.
type Decision string

const (
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
)

// Method indica quién decidió: la autoridad remota o el cache offline.
// Enum canónico único (el histórico jwt_fallback/offline_validation quedó unificado).
type Method string

const (
	MethodManager Method = "qr_manager"
	MethodOffline Method = "offline_cache"
)

// UsageStatus es el estado del registro de consumo local.
type UsageStatus string

const (
	UsagePending UsageStatus = "PENDING"
	UsageActive  UsageStatus = "ACTIVE"
	UsageExpired UsageStatus = "EXPIRED"
	UsageRevoked UsageStatus = "REVOKED"
)

// UsageEntry es el registro durable de consumo por credencial (clave: JTI).
// Solo se usa cuando la autoridad remota no responde.
// Invariante: 0 ≤ UsedCount ≤ MaxUses, incluso bajo scans concurrentes.
type UsageEntry struct {
	JTI       string
	VisitID   string
	VisitName string
	Gate      string

	WindowStart time.Time // cero = sin restricción
	WindowEnd   time.Time // cero = sin restricción

	MaxUses   int
	UsedCount int
	Status    UsageStatus

	LastSyncAt time.Time
	CreatedAt  time.Time
}

// LogEntry es una fila inmutable de auditoría, una por intento de scan
// (incluyendo correcciones que escribe la reconciliación).
type LogEntry struct {
	ID     string
	JTI    string
	Gate   string
	UserID string

	AccessType   Decision
	AccessMethod Method

	Timestamp time.Time
	Reason    string

	Synced        bool
	SyncTimestamp *time.Time

	Payload         credentials.Payload
	ManagerResponse json.RawMessage
}
