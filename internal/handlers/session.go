package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"marketplace-storefront/internal/client"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/session"
)

// Scheduler is started on login and stopped on logout
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
}

// SessionHandler signs the shopper in and out
type SessionHandler struct {
	session   *session.Manager
	scheduler Scheduler
	// baseCtx outlives requests; the sync schedule runs under it
	baseCtx context.Context
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(baseCtx context.Context, session *session.Manager, scheduler Scheduler) *SessionHandler {
	return &SessionHandler{session: session, scheduler: scheduler, baseCtx: baseCtx}
}

// LoginRequest is the body of POST /v1/session/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse describes the current session
type SessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *models.User `json:"user,omitempty"`
	ExpiresAt     *time.Time   `json:"expiresAt,omitempty"`
}

// Login handles POST /v1/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var details []models.ErrorDetail
	if strings.TrimSpace(req.Email) == "" {
		details = append(details, models.ErrorDetail{Field: "email", Issue: "cannot be empty"})
	}
	if req.Password == "" {
		details = append(details, models.ErrorDetail{Field: "password", Issue: "cannot be empty"})
	}
	if len(details) > 0 {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Email and password are required", details)
		return
	}

	if _, err := h.session.Login(r.Context(), req.Email, req.Password); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
			return
		}
		slog.Error("Login failed", "error", err, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusBadGateway, "backend_error", "Login failed", nil)
		return
	}

	if err := h.scheduler.Start(h.baseCtx); err != nil {
		slog.Warn("Sync not scheduled after login", "error", err)
	}
	h.GetSession(w, r)
}

// Logout handles POST /v1/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	if err := h.session.Logout(r.Context()); err != nil {
		slog.Error("Logout failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Logout failed", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /v1/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	token, ok := h.session.Token(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusOK, SessionResponse{})
		return
	}

	resp := SessionResponse{Authenticated: true}
	if user, err := h.session.User(r.Context()); err == nil {
		resp.User = user
	}
	if exp, ok := session.Expiry(token); ok {
		resp.ExpiresAt = &exp
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
