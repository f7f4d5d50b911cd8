package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/normalize"
	"marketplace-storefront/internal/telemetry"
)

// Backend endpoints, relative to the base URL
const (
	pathHealth     = "/health"
	pathProducts   = "/products"
	pathCompanies  = "/companies"
	pathUsers      = "/users"
	pathCategories = "/categories"
	pathSales      = "/sales"
	pathLogin      = "/auth/login"
	pathLogout     = "/auth/logout"
)

// TokenSource supplies the session token sent as a bearer credential
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// Client talks to the marketplace REST backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *telemetry.StorefrontTelemetry
	logger     *slog.Logger

	mu     sync.RWMutex
	tokens TokenSource
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTelemetry records every backend call on t
func WithTelemetry(t *telemetry.StorefrontTelemetry) Option {
	return func(c *Client) { c.metrics = t }
}

// New creates a client for baseURL
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.Default().With("component", "backend-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource sets where bearer tokens come from. The session manager
// depends on the client for login, so it is attached after construction.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

func (c *Client) bearer(ctx context.Context) (string, bool) {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return "", false
	}
	return ts.Token(ctx)
}

// do sends one request and returns the body of a 2xx response.
// Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, payload any, headers map[string]string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := c.bearer(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = errors.Wrapf(err, "%s %s", method, path)
		c.metrics.RecordBackendCall(ctx, path, 0, time.Since(start), err)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = errors.Wrap(err, "failed to read response")
		c.metrics.RecordBackendCall(ctx, path, resp.StatusCode, time.Since(start), err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, respBody)
		c.metrics.RecordBackendCall(ctx, path, resp.StatusCode, time.Since(start), apiErr)
		c.logger.Debug("Backend request failed",
			"method", method,
			"path", path,
			"status_code", resp.StatusCode,
		)
		return nil, apiErr
	}

	c.metrics.RecordBackendCall(ctx, path, resp.StatusCode, time.Since(start), nil)
	return respBody, nil
}

// HealthCheck checks that the backend answers
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, pathHealth, nil, nil)
	return err
}

func (c *Client) list(ctx context.Context, path string) ([]normalize.Record, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	rows, err := normalize.DecodeList(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return normalize.Records(rows), nil
}

// ListProducts fetches the raw product list
func (c *Client) ListProducts(ctx context.Context) ([]normalize.Record, error) {
	return c.list(ctx, pathProducts)
}

// ListCompanies fetches the raw company list
func (c *Client) ListCompanies(ctx context.Context) ([]normalize.Record, error) {
	return c.list(ctx, pathCompanies)
}

// ListUsers fetches the raw user list. The backend only serves it to admins.
func (c *Client) ListUsers(ctx context.Context) ([]normalize.Record, error) {
	return c.list(ctx, pathUsers)
}

// ListCategories fetches the category list. Entries may be objects or bare names.
func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	body, err := c.do(ctx, http.MethodGet, pathCategories, nil, nil)
	if err != nil {
		return nil, err
	}
	rows, err := normalize.DecodeList(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode categories")
	}

	categories := make([]models.Category, 0, len(rows))
	for _, row := range rows {
		if cat, ok := normalize.Category(row); ok {
			categories = append(categories, cat)
		}
	}
	return categories, nil
}

// SaleLine is one product line of a sale
type SaleLine struct {
	ProductID string `json:"productId"`
	CompanyID string `json:"companyId,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
}

// SaleRequest is the order payload accepted by the backend
type SaleRequest struct {
	Items           []SaleLine `json:"items"`
	Subtotal        string     `json:"subtotal"`
	Discount        string     `json:"discount"`
	Shipping        string     `json:"shipping"`
	Total           string     `json:"total"`
	PromoCode       string     `json:"promoCode,omitempty"`
	ShippingAddress string     `json:"shippingAddress"`
	PaymentMethod   string     `json:"paymentMethod"`
	Notes           string     `json:"notes,omitempty"`
}

// Sale is the backend's answer to a created sale
type Sale struct {
	ID     string
	Status string
}

// CreateSale submits an order. idempotencyKey lets the backend drop a
// duplicate submission of the same checkout.
func (c *Client) CreateSale(ctx context.Context, sale SaleRequest, idempotencyKey string) (*Sale, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}

	body, err := c.do(ctx, http.MethodPost, pathSales, sale, headers)
	if err != nil {
		return nil, err
	}

	var rec normalize.Record
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, errors.Wrap(err, "failed to decode sale")
		}
	}
	return &Sale{
		ID:     rec.String("id", "_id", "saleId", "orderId", "data.id", "sale.id"),
		Status: rec.String("status", "estado", "data.status", "sale.status"),
	}, nil
}

// LoginResult is a successful authentication
type LoginResult struct {
	Token string
	User  models.User
}

// Login exchanges credentials for a session token
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload := map[string]string{"email": email, "password": password}
	body, err := c.do(ctx, http.MethodPost, pathLogin, payload, nil)
	if err != nil {
		return nil, err
	}

	var rec normalize.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode login response")
	}

	token := rec.String("token", "accessToken", "access_token", "jwt", "data.token", "data.accessToken")
	if token == "" {
		return nil, errors.New("login response carries no token")
	}

	result := &LoginResult{Token: token}
	for _, key := range []string{"user", "data.user", "usuario"} {
		if raw, ok := rec.Lookup(key); ok {
			if m, ok := raw.(map[string]any); ok {
				if user, ok := normalize.User(normalize.Record(m)); ok {
					result.User = user
					break
				}
			}
		}
	}
	if result.User.Email == "" {
		result.User.Email = email
	}
	return result, nil
}

// Logout revokes token on the backend
func (c *Client) Logout(ctx context.Context, token string) error {
	headers := map[string]string{"Authorization": "Bearer " + token}
	_, err := c.do(ctx, http.MethodPost, pathLogout, nil, headers)
	return err
}
