package pendingsync

import (
	"time"

	"turnstile-service/internal/domain/access"
	"turnstile-service/internal/domain/credentials"
)

// Status del registro pendiente.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Record es una decisión tomada sin confirmación de la autoridad, esperando
// replay. Solo el motor de reconciliación la muta después de creada.
type Record struct {
	ID     string
	JTI    string
	Gate   string
	UserID string

	AccessType access.Decision
	Timestamp  time.Time
	Reason     string

	// Payload original decodificado, para poder re-enviar el consume.
	Payload credentials.Payload

	RetryCount   int
	LastRetryAt  time.Time
	Status       Status
	ErrorMessage string

	CreatedAt time.Time
}
