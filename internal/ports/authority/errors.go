package authority

import "fmt"

// RejectionKind clasifica los rechazos definitivos del QR Manager.
// Cerrado a propósito: el mapeo status → kind es una función total,
// nunca matching sobre texto de error.
type RejectionKind string

const (
	RejectionInvalid   RejectionKind = "invalid"   // 400
	RejectionNotFound  RejectionKind = "not_found" // 404
	RejectionExhausted RejectionKind = "exhausted" // 409
	RejectionRevoked   RejectionKind = "revoked"   // 410
)

// ClassifyStatus mapea un status HTTP a un RejectionKind.
// ok=false significa que el status NO es definitivo (5xx, etc.)
// y debe tratarse como falla transitoria.
func ClassifyStatus(status int) (RejectionKind, bool) {
	switch status {
	case 400:
		return RejectionInvalid, true
	case 404:
		return RejectionNotFound, true
	case 409:
		return RejectionExhausted, true
	case 410:
		return RejectionRevoked, true
	default:
		return "", false
	}
}

// RejectedError: la autoridad respondió y dijo que no. Es final, no se reintenta.
type RejectedError struct {
	Kind       RejectionKind
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authority rejected: kind=%s status=%d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("authority rejected: kind=%s status=%d message=%s", e.Kind, e.StatusCode, e.Message)
}

// UnreachableError: timeout, conexión rechazada, 5xx o respuesta vacía.
// Dispara el camino offline y reintentos posteriores.
type UnreachableError struct {
	Cause error
}

func (e *UnreachableError) Error() string {
	if e.Cause == nil {
		return "authority unreachable"
	}
	return fmt.Sprintf("authority unreachable: %v", e.Cause)
}

func (e *UnreachableError) Unwrap() error { return e.Cause }
