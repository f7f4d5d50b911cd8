package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"marketplace-storefront/internal/events"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
	maxWaitSeconds     = 60
)

// EventsHandler lets out-of-process UIs follow the bus by offset
type EventsHandler struct {
	log    *events.Log
	logger *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(log *events.Log, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{log: log, logger: logger}
}

// EventsResponse is one page of the event log
type EventsResponse struct {
	Events     []events.Event `json:"events"`
	NextOffset int64          `json:"nextOffset"`
	HasMore    bool           `json:"hasMore"`
	Count      int            `json:"count"`
}

// GetEvents handles GET /v1/events. Without offset it starts at the current
// end of the log, so a new consumer only sees what happens next.
func (h *EventsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	offset := h.log.CurrentOffset()
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		parsed, err := strconv.ParseInt(offsetStr, 10, 64)
		if err != nil || parsed < 0 {
			writeErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid offset parameter", nil)
			return
		}
		offset = parsed
	}

	limit := defaultEventsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= maxEventsLimit {
			limit = parsed
		}
	}

	waitSeconds := 0
	if waitStr := r.URL.Query().Get("wait"); waitStr != "" {
		if parsed, err := strconv.Atoi(waitStr); err == nil && parsed >= 0 && parsed <= maxWaitSeconds {
			waitSeconds = parsed
		}
	}

	h.logger.Debug("Events request received",
		"offset", offset,
		"limit", limit,
		"wait", waitSeconds,
		"remote_addr", r.RemoteAddr,
	)

	evts, nextOffset, hasMore := h.log.GetEvents(offset, limit)

	if len(evts) == 0 && waitSeconds > 0 {
		waitChan := h.log.WaitForEvents(offset, time.Duration(waitSeconds)*time.Second)

		select {
		case <-waitChan:
			evts, nextOffset, hasMore = h.log.GetEvents(offset, limit)
		case <-r.Context().Done():
			h.logger.Debug("Client disconnected during long polling", "offset", offset)
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, EventsResponse{
		Events:     evts,
		NextOffset: nextOffset,
		HasMore:    hasMore,
		Count:      len(evts),
	})
}
