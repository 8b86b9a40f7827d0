package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/pdfrag-go/internal/logging"
)

// authMiddleware enforces Bearer token authentication on the session and
// document routes. An empty apiKey disables the check; the server warns
// about that once at startup.
//
// Protected routes must supply:
//
//	Authorization: Bearer <apiKey>
//
// Failures get 401 with a WWW-Authenticate challenge and the usual JSON
// error body. Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			deny(w, r, `Bearer realm="pdfrag"`, "authorization required", "missing Authorization header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			deny(w, r, `Bearer realm="pdfrag", error="invalid_token"`, "invalid token", "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, r *http.Request, challenge, msg, reason string) {
	logging.FromContext(r.Context()).Warn("auth rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", reason),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{Message: msg})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
