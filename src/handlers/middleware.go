package handlers

import (
	"net/http"
	"strings"

	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/security"
	"github.com/danicanod/banker/src/utils"
)

// AuthMiddleware guards the external ingest and admin endpoints. Callers
// present either a bearer token or a static API key in X-API-Key.
func AuthMiddleware(authService *security.AuthService, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			if err := authService.ValidateAPIKey(apiKey); err != nil {
				logger.L.Warn("AuthMiddleware: API key rejected", "path", r.URL.Path)
				utils.SendJSONError(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			logger.L.Debug("AuthMiddleware: no credentials supplied", "path", r.URL.Path)
			utils.SendJSONError(w, "Authorization header or X-API-Key required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" {
			utils.SendJSONError(w, "Malformed token", http.StatusUnauthorized)
			return
		}

		subject, err := authService.ValidateToken(tokenString)
		if err != nil {
			logger.L.Warn("AuthMiddleware: token validation failed", "path", r.URL.Path, "error", err)
			utils.SendJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		logger.L.Debug("AuthMiddleware: caller authenticated", "subject", subject, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	}
}
