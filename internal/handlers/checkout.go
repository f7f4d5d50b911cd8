package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"marketplace-storefront/internal/checkout"
	"marketplace-storefront/internal/client"
	"marketplace-storefront/internal/models"
)

// CheckoutHandler prices and submits orders
type CheckoutHandler struct {
	checkout *checkout.Service
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkout *checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// PreviewRequest is the body of POST /v1/checkout/preview
type PreviewRequest struct {
	PromoCode string `json:"promoCode"`
}

// Preview handles POST /v1/checkout/preview
func (h *CheckoutHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.checkout.Preview(req.PromoCode)
	if err != nil {
		writeCheckoutError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, quote)
}

// Submit handles POST /v1/checkout
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	receipt, err := h.checkout.Submit(r.Context(), req)
	if err != nil {
		writeCheckoutError(w, err)
		return
	}

	slog.Info("Checkout completed", "sale_id", receipt.SaleID, "remote_addr", r.RemoteAddr)
	writeJSONResponse(w, http.StatusCreated, receipt)
}

func writeCheckoutError(w http.ResponseWriter, err error) {
	var (
		submitErr *checkout.SubmitError
		fieldErr  *checkout.FieldError
	)
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		writeErrorResponse(w, http.StatusConflict, "empty_cart", "Cart is empty", nil)
	case errors.Is(err, checkout.ErrUnknownPromo):
		writeErrorResponse(w, http.StatusUnprocessableEntity, "invalid_promo", "Unknown promo code", []models.ErrorDetail{
			{Field: "promoCode", Issue: "is not valid"},
		})
	case errors.As(err, &fieldErr):
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid checkout request", []models.ErrorDetail{
			{Field: fieldErr.Field, Issue: fieldErr.Issue},
		})
	case errors.As(err, &submitErr):
		var details []models.ErrorDetail
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			for _, fe := range apiErr.FieldErrors {
				details = append(details, models.ErrorDetail{Field: fe.Field, Issue: strings.Join(fe.Messages, ", ")})
			}
		}
		w.Header().Set("Idempotency-Key", submitErr.IdempotencyKey)
		writeErrorResponse(w, http.StatusBadGateway, "sale_rejected", submitErr.Message, details)
	default:
		slog.Error("Checkout failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Checkout failed", nil)
	}
}
