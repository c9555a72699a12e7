// Package middleware contains HTTP middleware for the admin API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"sellerpilot/internal/auth"
	"sellerpilot/pkg/api"
)

// RequireAdminToken rejects requests that do not carry "Bearer <token>".
// An empty token disables the routes with 403.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	verifier := auth.NewVerifier(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verifier.Enabled() {
				writeError(w, "Admin API disabled", http.StatusForbidden)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !verifier.Match(parts[1]) {
				writeError(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: strconv.Itoa(code)})
}
