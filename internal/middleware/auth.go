package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyAuth creates middleware for dashboard API key authentication.
// When apiKey is empty the dashboard is open; the session with the
// remote tracking service is authenticated separately by its own token.
func APIKeyAuth(apiKey, headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Skip auth for health endpoints
			path := r.URL.Path
			if path == "/health" || path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			// Only authenticate API routes
			if !strings.HasPrefix(path, "/api") {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get(headerName)
			if providedKey == "" {
				// The stream endpoint cannot set headers from a
				// browser WebSocket; accept the key as a query param
				providedKey = r.URL.Query().Get("apiKey")
			}
			if providedKey == "" {
				unauthorized(w, "API key is required.")
				return
			}

			if !constantTimeEquals(apiKey, providedKey) {
				unauthorized(w, "Invalid API key.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// constantTimeEquals compares keys without leaking length timing
func constantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
