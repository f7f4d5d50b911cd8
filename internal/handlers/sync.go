package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/gorilla/mux"

	"marketplace-storefront/internal/datasync"
	"marketplace-storefront/internal/models"
)

// SyncHandler exposes the data synchronization
type SyncHandler struct {
	sync *datasync.Manager
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(sync *datasync.Manager) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// SyncStatusResponse is the sync status with the freshness verdict
type SyncStatusResponse struct {
	models.SyncStatus
	Consistent bool `json:"consistent"`
	Scheduled  bool `json:"scheduled"`
}

// GetStatus handles GET /v1/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.statusResponse(r))
}

// ForceSync handles POST /v1/sync/force. The run completes before the
// response; its failure is reported with the resulting status.
func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.ForceSync(r.Context()); err != nil {
		status := http.StatusBadGateway
		code := "sync_failed"
		if errors.Is(err, datasync.ErrUnauthenticated) {
			status = http.StatusUnauthorized
			code = "unauthenticated"
		}
		writeErrorResponse(w, status, code, h.sync.GetSyncStatus().Error, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.statusResponse(r))
}

// Signal handles POST /v1/sync/signals/{signal}
func (h *SyncHandler) Signal(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["signal"]
	sig, ok := datasync.ParseSignal(raw)
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Unknown signal: %s", raw), []models.ErrorDetail{
			{Field: "signal", Issue: "must be one of visibility, online, focus"},
		})
		return
	}

	h.sync.Signal(r.Context(), sig)
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"signal": string(sig)})
}

func (h *SyncHandler) statusResponse(r *http.Request) SyncStatusResponse {
	return SyncStatusResponse{
		SyncStatus: h.sync.GetSyncStatus(),
		Consistent: h.sync.CheckDataConsistency(r.Context()),
		Scheduled:  h.sync.Running(),
	}
}
