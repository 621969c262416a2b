package credentials

import "time"

// Validate aplica los chequeos estructurales baratos, idénticos online u offline:
// es el pre-filtro antes de cualquier llamada de red o consulta al cache.
// Reglas de borde: un scan exactamente en exp todavía pasa; la ventana
// cierra recién después de exp.
func Validate(p Payload, gate string, now time.Time) error {
	if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
		return ErrExpired
	}
	if !p.NotBefore.IsZero() && now.Before(p.NotBefore) {
		return ErrNotYetValid
	}
	if p.Gate != "" && p.Gate != gate {
		return ErrWrongGate
	}
	return nil
}
