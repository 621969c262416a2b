package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const deviceKey ctxKey = "device"

// DeviceContext:
// - Si viene header X-Device-ID => lo guarda en el contexto del request.
// - Si no hay header, el request sigue igual; el handler de scan permite
//   también el device_id en el body y cae a "unknown" si falta en ambos.
func DeviceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get("X-Device-ID")); id != "" {
			ctx := context.WithValue(r.Context(), deviceKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetDeviceID(ctx context.Context) string {
	v := ctx.Value(deviceKey)
	if v == nil {
		return ""
	}
	id, _ := v.(string)
	return id
}
