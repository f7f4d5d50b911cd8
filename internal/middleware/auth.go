package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"marketplace-storefront/internal/models"
)

// APIKeyHeader carries the key UI clients authenticate with
const APIKeyHeader = "X-API-Key"

// AuthMiddleware accepts requests carrying one of validAPIKeys
func AuthMiddleware(validAPIKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(validAPIKeys))
	for _, k := range validAPIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				slog.Warn("Authentication failed: missing API key", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "API key required")
				return
			}

			if !isValidAPIKey(keys, apiKey) {
				slog.Warn("Authentication failed: invalid API key",
					"remote_addr", r.RemoteAddr,
					"api_key", maskAPIKey(apiKey),
					"path", r.URL.Path)
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}

			slog.Debug("Authentication successful", "remote_addr", r.RemoteAddr, "api_key", maskAPIKey(apiKey))
			next.ServeHTTP(w, r)
		})
	}
}

func isValidAPIKey(keys [][]byte, apiKey string) bool {
	provided := []byte(apiKey)
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k, provided) == 1 {
			return true
		}
	}
	return false
}

// maskAPIKey masks an API key for logging (shows only first 4 characters)
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 4 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", len(apiKey)-4)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    code,
		Message: message,
	})
}
