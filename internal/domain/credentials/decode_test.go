package credentials

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestDecode_FullPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw := signToken(t, jwt.MapClaims{
		"iss":    "qr-manager",
		"kid":    "key-1",
		"jti":    "abc-123",
		"sub":    "visit-9",
		"name":   "Ana Ruiz",
		"userId": "user-7",
		"iat":    now.Unix(),
		"nbf":    now.Unix(),
		"exp":    now.Add(time.Hour).Unix(),
		"gate":   "G1",
		"max":    3,
	})

	p, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "qr-manager", p.Issuer)
	assert.Equal(t, "key-1", p.KeyID)
	assert.Equal(t, "abc-123", p.JTI)
	assert.Equal(t, "visit-9", p.Subject)
	assert.Equal(t, "Ana Ruiz", p.Name)
	assert.Equal(t, "user-7", p.UserID)
	assert.Equal(t, "G1", p.Gate)
	assert.Equal(t, 3, p.MaxUses)
	assert.True(t, p.NotBefore.Equal(now))
	assert.True(t, p.ExpiresAt.Equal(now.Add(time.Hour)))
}

// La firma no se verifica: un token firmado con cualquier secreto decodifica igual.
func TestDecode_IgnoresSignature(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"jti": "x-1"})
	raw, err := tok.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	p, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "x-1", p.JTI)
}

func TestDecode_OptionalFieldsUnconstrained(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"jti": "only-jti"})

	p, err := Decode(raw)
	require.NoError(t, err)

	assert.True(t, p.NotBefore.IsZero())
	assert.True(t, p.ExpiresAt.IsZero())
	assert.Empty(t, p.Gate)
	assert.Zero(t, p.MaxUses)
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"garbage", "not-a-token"},
		{"two segments", "aaaa.bbbb"},
		{"bad base64", "a!.b!.c!"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecode_MissingJTI(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"sub": "visit-1"})
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDecode_WindowInverted(t *testing.T) {
	now := time.Now()
	raw := signToken(t, jwt.MapClaims{
		"jti": "bad-window",
		"nbf": now.Add(time.Hour).Unix(),
		"exp": now.Unix(),
	})
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrInvalid)
}
