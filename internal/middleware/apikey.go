package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
)

const APIKeyHeader = "X-API-Key"

// APIKey guards machine endpoints with a shared secret. It never looks at
// sessions. When disabled it passes everything through.
func APIKey(enabled bool, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		expected := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				slog.Warn("api key rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				apperr.WriteError(w, apperr.Unauthorized("invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
