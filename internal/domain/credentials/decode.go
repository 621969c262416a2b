package credentials

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid     = errors.New("invalid credential")
	ErrExpired     = errors.New("credential expired")
	ErrNotYetValid = errors.New("credential not yet valid")
	ErrWrongGate   = errors.New("credential not authorized for this gate")
)

// tokenClaims mapea los claims del token tal como los emite el QR Manager.
type tokenClaims struct {
	jwt.RegisteredClaims
	KeyID   string `json:"kid,omitempty"`
	Name    string `json:"name,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Gate    string `json:"gate,omitempty"`
	MaxUses int    `json:"max,omitempty"`
}

// Decode parsea un token bearer a Payload SIN verificar la firma.
// La autenticación criptográfica queda del lado de la autoridad remota
// (frontera de confianza documentada; no agregar verificación acá sin
// revisar ese contrato). Falla solo por corrupción estructural, nunca
// por razones de negocio (expiración, portón equivocado).
func Decode(token string) (Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Payload{}, fmt.Errorf("%w: empty token", ErrInvalid)
	}

	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	p := Payload{
		Issuer:  claims.Issuer,
		KeyID:   claims.KeyID,
		JTI:     claims.ID,
		Subject: claims.Subject,
		Name:    claims.Name,
		UserID:  claims.UserID,
		Gate:    claims.Gate,
		MaxUses: claims.MaxUses,
	}
	p.IssuedAt = numericTime(claims.IssuedAt)
	p.NotBefore = numericTime(claims.NotBefore)
	p.ExpiresAt = numericTime(claims.ExpiresAt)

	if strings.TrimSpace(p.JTI) == "" {
		return Payload{}, fmt.Errorf("%w: missing jti", ErrInvalid)
	}
	if !p.NotBefore.IsZero() && !p.ExpiresAt.IsZero() && p.NotBefore.After(p.ExpiresAt) {
		return Payload{}, fmt.Errorf("%w: nbf after exp", ErrInvalid)
	}

	return p, nil
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}
