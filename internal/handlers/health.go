package handlers

import (
	"context"
	"net/http"
	"time"

	"marketplace-storefront/internal/models"
)

const healthCheckTimeout = 3 * time.Second

// BackendChecker pings the marketplace backend
type BackendChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatusSource reports the sync status
type StatusSource interface {
	GetSyncStatus() models.SyncStatus
}

// HealthHandler handles health check requests
type HealthHandler struct {
	backend BackendChecker
	sync    StatusSource
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(backend BackendChecker, sync StatusSource, version string) *HealthHandler {
	return &HealthHandler{backend: backend, sync: sync, version: version}
}

// Health handles GET /health. The agent stays healthy while the backend is
// down because it keeps serving the persisted snapshot.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := models.HealthResponse{
		Status:     "healthy",
		Service:    "marketplace-storefront",
		Version:    h.version,
		Backend:    "up",
		SyncStatus: h.sync.GetSyncStatus(),
		Timestamp:  time.Now().UTC(),
	}
	if err := h.backend.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		resp.Backend = "down"
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
