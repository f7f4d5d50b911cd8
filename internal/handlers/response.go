package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"marketplace-storefront/internal/models"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// writeJSONResponse is a helper function to write JSON responses
func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// writeErrorResponse is a helper function to write error responses
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details []models.ErrorDetail) {
	writeJSONResponse(w, statusCode, models.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// decodeJSON reads a JSON body into v and writes a 400 when it cannot
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return false
	}
	return true
}
