package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product statuses seen on the marketplace backend
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Product is one entry of the product snapshot. Snapshots are replaced
// wholesale on every successful sync and never mutated in place.
type Product struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	ShortDescription string           `json:"shortDescription,omitempty"`
	Price            decimal.Decimal  `json:"price"`
	OriginalPrice    *decimal.Decimal `json:"originalPrice,omitempty"`
	StockQuantity    int              `json:"stockQuantity"`
	Category         string           `json:"category,omitempty"`
	CompanyID        string           `json:"companyId,omitempty"`
	CompanyName      string           `json:"companyName,omitempty"`
	ImageURL         string           `json:"imageUrl,omitempty"`
	Status           string           `json:"status,omitempty"`
	Popular          bool             `json:"popular,omitempty"`
	Rating           float64          `json:"rating,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// IsActive reports whether the product should be listed. An empty status
// is treated as active because older backend records omit it.
func (p Product) IsActive() bool {
	return p.Status == "" || strings.EqualFold(p.Status, StatusActive)
}

// InStock reports whether any units are known to be available
func (p Product) InStock() bool {
	return p.StockQuantity > 0
}

// Company is one entry of the company (store) snapshot
type Company struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Sector      string    `json:"sector,omitempty"`
	Address     string    `json:"address,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	LogoURL     string    `json:"logoUrl,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// User roles
const (
	RoleAdmin        = "admin"
	RoleEntrepreneur = "entrepreneur"
	RoleClient       = "client"
)

// User is a marketplace account, either the session owner or a snapshot entry
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status,omitempty"`
}

// Category is a catalog category as listed by the backend
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SyncState is the state of the data synchronization
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncSuccess SyncState = "success"
	SyncError   SyncState = "error"
)

// SyncCounts are the record counts of the last successful sync
type SyncCounts struct {
	Products  int `json:"products"`
	Companies int `json:"companies"`
	Users     int `json:"users"`
}

// SyncStatus is the in-memory status of the data synchronization
type SyncStatus struct {
	State        SyncState  `json:"state"`
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
	Error        string     `json:"error,omitempty"`
	Counts       SyncCounts `json:"counts"`
}

// SyncCache is the persisted snapshot envelope
type SyncCache struct {
	Products  []Product `json:"products"`
	Companies []Company `json:"companies"`
	Users     []User    `json:"users"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
	SyncID    string    `json:"syncId"`
}

// CartKey identifies a cart line: one product in one color/size selection
type CartKey struct {
	ProductID string
	Color     string
	Size      string
}

// CartItem is one line of the shopping cart
type CartItem struct {
	ID                string           `json:"id"`
	Product           Product          `json:"product"`
	Quantity          int              `json:"quantity"`
	SelectedColor     string           `json:"selectedColor,omitempty"`
	SelectedSize      string           `json:"selectedSize,omitempty"`
	AddedAt           time.Time        `json:"addedAt"`
	UnitPrice         decimal.Decimal  `json:"price"`
	OriginalUnitPrice *decimal.Decimal `json:"originalPrice,omitempty"`
}

// Key returns the composite key of the line
func (i CartItem) Key() CartKey {
	return CartKey{ProductID: i.ID, Color: i.SelectedColor, Size: i.SelectedSize}
}

// CartSummary is derived from the cart on every request and never stored
type CartSummary struct {
	Items        []CartItem      `json:"items"`
	TotalItems   int             `json:"totalItems"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TotalSavings decimal.Decimal `json:"totalSavings"`
	Shipping     decimal.Decimal `json:"shipping"`
	Total        decimal.Decimal `json:"total"`
}

// CartUpdated is the payload of the cartUpdated event
type CartUpdated struct {
	Items   []CartItem  `json:"items"`
	Summary CartSummary `json:"summary"`
}

// DataSynced is the payload of the dataSynced event
type DataSynced struct {
	Products  []Product `json:"products"`
	Companies []Company `json:"companies"`
	Users     []User    `json:"users"`
}

// FavoritesUpdated is the payload of the favoritesUpdated event
type FavoritesUpdated struct {
	Favorites      []string `json:"favorites"`
	FavoriteStores []string `json:"favoriteStores"`
}

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status     string     `json:"status"`
	Service    string     `json:"service,omitempty"`
	Version    string     `json:"version,omitempty"`
	Backend    string     `json:"backend,omitempty"`
	SyncStatus SyncStatus `json:"sync"`
	Timestamp  time.Time  `json:"timestamp"`
}
