package credentials

import "time"

// Payload es la credencial decodificada del token escaneado.
// Inmutable una vez decodificada. Campos opcionales en cero = sin restricción.
type Payload struct {
	Issuer  string `json:"iss,omitempty"`
	KeyID   string `json:"kid,omitempty"`
	JTI     string `json:"jti"`
	Subject string `json:"sub,omitempty"` // id de la visita
	Name    string `json:"name,omitempty"`
	UserID  string `json:"user_id,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	NotBefore time.Time `json:"nbf,omitempty"` // inicio de ventana
	ExpiresAt time.Time `json:"exp,omitempty"` // fin de ventana

	Gate    string `json:"gate,omitempty"` // portón autorizado
	MaxUses int    `json:"max,omitempty"`
}
