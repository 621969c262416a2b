package authority

import (
	"context"
	"encoding/json"
	"time"
)

// Consumer consume un uso de una credencial contra la autoridad remota (QR Manager).
type Consumer interface {
	Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)
}

// ConsumeRequest es el payload exacto que espera el QR Manager.
type ConsumeRequest struct {
	JTI  string    `json:"jti"`
	Gate string    `json:"gate"`
	At   time.Time `json:"at"`
}

// ConsumeResult guarda la respuesta cruda; solo se usa para auditoría.
type ConsumeResult struct {
	Body json.RawMessage
}
