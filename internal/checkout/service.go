// Package checkout turns the cart into a backend sale
package checkout

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace-storefront/internal/cart"
	"marketplace-storefront/internal/client"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/telemetry"
)

var (
	// ErrEmptyCart is returned when there is nothing to check out
	ErrEmptyCart = errors.New("cart is empty")
	// ErrUnknownPromo is returned for a promo code that is not configured
	ErrUnknownPromo = errors.New("unknown promo code")
	// ErrInvalidRequest is matched by every *FieldError
	ErrInvalidRequest = errors.New("invalid checkout request")
)

// Cart is the part of the cart checkout reads and clears
type Cart interface {
	Items() []models.CartItem
	Pricing() cart.Pricing
	RemoveOrdered(ordered []models.CartItem)
}

// SaleSubmitter creates sales on the backend
type SaleSubmitter interface {
	CreateSale(ctx context.Context, sale client.SaleRequest, idempotencyKey string) (*client.Sale, error)
}

// Quote is the priced order that would be submitted
type Quote struct {
	Items        []models.CartItem `json:"items"`
	TotalItems   int               `json:"totalItems"`
	Subtotal     decimal.Decimal   `json:"subtotal"`
	PromoCode    string            `json:"promoCode,omitempty"`
	PromoPercent int               `json:"promoPercent,omitempty"`
	Discount     decimal.Decimal   `json:"discount"`
	Shipping     decimal.Decimal   `json:"shipping"`
	Total        decimal.Decimal   `json:"total"`
}

// Request carries the shopper's checkout form
type Request struct {
	PromoCode       string `json:"promoCode"`
	ShippingAddress string `json:"shippingAddress"`
	PaymentMethod   string `json:"paymentMethod"`
	Notes           string `json:"notes"`
	// IdempotencyKey is generated when empty. Resubmitting a failed checkout
	// with the returned key lets the backend drop duplicates.
	IdempotencyKey string `json:"idempotencyKey"`
}

// Receipt is a submitted order
type Receipt struct {
	SaleID         string    `json:"saleId"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Quote          Quote     `json:"quote"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// SubmitError is a rejected sale with its backend errors flattened into a
// message fit for showing to the shopper
type SubmitError struct {
	Message        string
	IdempotencyKey string
	Err            error
}

func (e *SubmitError) Error() string { return e.Message }

func (e *SubmitError) Unwrap() error { return e.Err }

// FieldError is a missing or malformed checkout field. It matches
// ErrInvalidRequest.
type FieldError struct {
	Field string
	Issue string
}

func (e *FieldError) Error() string { return e.Field + " " + e.Issue }

func (e *FieldError) Unwrap() error { return ErrInvalidRequest }

// Service prices and submits the cart
type Service struct {
	cart    Cart
	sales   SaleSubmitter
	promos  map[string]int
	metrics *telemetry.StorefrontTelemetry
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a checkout service. promos maps upper-cased codes to a
// percentage off the subtotal.
func NewService(c Cart, sales SaleSubmitter, promos map[string]int, metrics *telemetry.StorefrontTelemetry) *Service {
	return &Service{
		cart:    c,
		sales:   sales,
		promos:  promos,
		metrics: metrics,
		now:     time.Now,
		logger:  slog.Default().With("component", "checkout"),
	}
}

// Preview prices the current cart with an optional promo code
func (s *Service) Preview(promoCode string) (Quote, error) {
	return s.quote(s.cart.Items(), promoCode)
}

func (s *Service) quote(items []models.CartItem, promoCode string) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, ErrEmptyCart
	}

	summary := cart.Summarize(items, s.cart.Pricing())
	q := Quote{
		Items:      summary.Items,
		TotalItems: summary.TotalItems,
		Subtotal:   summary.Subtotal,
		Discount:   decimal.Zero,
		Shipping:   summary.Shipping,
	}

	code := strings.ToUpper(strings.TrimSpace(promoCode))
	if code != "" {
		percent, ok := s.promos[code]
		if !ok {
			return Quote{}, errors.Wrapf(ErrUnknownPromo, "%q", promoCode)
		}
		q.PromoCode = code
		q.PromoPercent = percent
		q.Discount = summary.Subtotal.Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100)).Round(2)
	}

	// Shipping follows the pre-discount subtotal, matching the cart summary
	q.Total = q.Subtotal.Sub(q.Discount).Add(q.Shipping)
	return q, nil
}

// Submit sends the cart as a sale and removes the ordered lines once the
// backend accepts it. Lines added while the sale is in flight stay. A backend rejection comes back as a *SubmitError.
func (s *Service) Submit(ctx context.Context, req Request) (receipt *Receipt, err error) {
	defer func() { s.metrics.RecordCheckout(ctx, err) }()

	if strings.TrimSpace(req.ShippingAddress) == "" {
		return nil, &FieldError{Field: "shippingAddress", Issue: "is required"}
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, &FieldError{Field: "paymentMethod", Issue: "is required"}
	}

	q, err := s.quote(s.cart.Items(), req.PromoCode)
	if err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	sale, err := s.sales.CreateSale(ctx, buildSale(q, req), key)
	if err != nil {
		s.logger.Warn("Sale rejected", "idempotency_key", key, "error", err)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return nil, &SubmitError{Message: FlattenErrors(apiErr), IdempotencyKey: key, Err: err}
		}
		return nil, &SubmitError{Message: err.Error(), IdempotencyKey: key, Err: err}
	}

	s.cart.RemoveOrdered(q.Items)
	s.logger.Info("Sale submitted",
		"sale_id", sale.ID,
		"items", q.TotalItems,
		"total", q.Total.String(),
		"idempotency_key", key)

	return &Receipt{
		SaleID:         sale.ID,
		Status:         sale.Status,
		IdempotencyKey: key,
		Quote:          q,
		SubmittedAt:    s.now().UTC(),
	}, nil
}

func buildSale(q Quote, req Request) client.SaleRequest {
	lines := make([]client.SaleLine, 0, len(q.Items))
	for _, item := range q.Items {
		lines = append(lines, client.SaleLine{
			ProductID: item.ID,
			CompanyID: item.Product.CompanyID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
			Color:     item.SelectedColor,
			Size:      item.SelectedSize,
		})
	}
	return client.SaleRequest{
		Items:           lines,
		Subtotal:        q.Subtotal.String(),
		Discount:        q.Discount.String(),
		Shipping:        q.Shipping.String(),
		Total:           q.Total.String(),
		PromoCode:       q.PromoCode,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Notes:           req.Notes,
	}
}

// FlattenErrors renders a backend error as one line per problem: the
// general message first, then "field: message" for each field error
func FlattenErrors(apiErr *client.APIError) string {
	if apiErr == nil {
		return ""
	}

	var lines []string
	if apiErr.Message != "" {
		lines = append(lines, apiErr.Message)
	}
	for _, fe := range apiErr.FieldErrors {
		msg := strings.Join(fe.Messages, ", ")
		if fe.Field != "" {
			msg = fe.Field + ": " + msg
		}
		lines = append(lines, msg)
	}
	if len(lines) == 0 {
		return apiErr.Error()
	}
	return strings.Join(lines, "\n")
}
