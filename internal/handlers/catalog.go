package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"marketplace-storefront/internal/catalog"
	"marketplace-storefront/internal/datasync"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/views"
)

const (
	defaultFeaturedLimit = 8
	maxFeaturedLimit     = 50
)

// FeaturedSource is a long-lived listing kept current with the snapshot
type FeaturedSource interface {
	Snapshot() views.CatalogState
}

// CatalogHandler serves the product and company snapshot
type CatalogHandler struct {
	sync       *datasync.Manager
	categories *catalog.CategoryService
	featured   FeaturedSource
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(sync *datasync.Manager, categories *catalog.CategoryService, featured FeaturedSource) *CatalogHandler {
	return &CatalogHandler{sync: sync, categories: categories, featured: featured}
}

// FeaturedList is the featured listing response
type FeaturedList struct {
	Items      []models.Product `json:"items"`
	Count      int              `json:"count"`
	Categories []string         `json:"categories"`
}

// ProductList is the listing response
type ProductList struct {
	Items        []models.Product `json:"items"`
	Count        int              `json:"count"`
	LastSyncTime *time.Time       `json:"lastSyncTime,omitempty"`
	Stale        bool             `json:"stale"`
}

// ListFeatured handles GET /v1/catalog/featured. The listing is maintained
// as the snapshot changes, so requests only slice it.
func (h *CatalogHandler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	limit := defaultFeaturedLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxFeaturedLimit {
			writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid limit", []models.ErrorDetail{
				{Field: "limit", Issue: fmt.Sprintf("must be between 1 and %d", maxFeaturedLimit)},
			})
			return
		}
		limit = parsed
	}

	state := h.featured.Snapshot()
	items := state.Products[:min(limit, len(state.Products))]
	writeJSONResponse(w, http.StatusOK, FeaturedList{
		Items:      items,
		Count:      len(items),
		Categories: state.Categories,
	})
}

// ListProducts handles GET /v1/catalog/products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query, details := parseQuery(r)
	if len(details) > 0 {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid catalog query", details)
		return
	}

	ctx := r.Context()
	items := catalog.Apply(h.sync.GetCachedProducts(ctx), query)

	slog.Debug("Listing products",
		"search", query.Search,
		"category", query.Category,
		"sort", query.Sort,
		"found_count", len(items),
		"remote_addr", r.RemoteAddr)

	writeJSONResponse(w, http.StatusOK, ProductList{
		Items:        items,
		Count:        len(items),
		LastSyncTime: h.sync.GetSyncStatus().LastSyncTime,
		Stale:        !h.sync.CheckDataConsistency(ctx),
	})
}

// GetProduct handles GET /v1/catalog/products/{id}
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	for _, p := range h.sync.GetCachedProducts(r.Context()) {
		if p.ID == productID {
			writeJSONResponse(w, http.StatusOK, p)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Product not found: %s", productID), nil)
}

// ListCategories handles GET /v1/catalog/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := h.categories.List(r.Context())
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"items": categories,
		"count": len(categories),
	})
}

// ListCompanies handles GET /v1/companies
func (h *CatalogHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies := h.sync.GetCachedCompanies(r.Context())
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"items": companies,
		"count": len(companies),
	})
}

func parseQuery(r *http.Request) (catalog.Query, []models.ErrorDetail) {
	values := r.URL.Query()
	query := catalog.Query{
		Search:    values.Get("search"),
		Category:  values.Get("category"),
		CompanyID: values.Get("company"),
		Sort:      catalog.ParseSort(values.Get("sort")),
	}

	var details []models.ErrorDetail
	parsePrice := func(field string) *decimal.Decimal {
		raw := values.Get(field)
		if raw == "" {
			return nil
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			details = append(details, models.ErrorDetail{Field: field, Issue: "must be a non-negative number"})
			return nil
		}
		return &d
	}
	parseBool := func(field string) bool {
		raw := values.Get(field)
		if raw == "" {
			return false
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			details = append(details, models.ErrorDetail{Field: field, Issue: "must be true or false"})
		}
		return b
	}

	query.MinPrice = parsePrice("minPrice")
	query.MaxPrice = parsePrice("maxPrice")
	query.InStockOnly = parseBool("inStock")
	query.IncludeInactive = parseBool("includeInactive")

	if query.MinPrice != nil && query.MaxPrice != nil && query.MinPrice.GreaterThan(*query.MaxPrice) {
		details = append(details, models.ErrorDetail{Field: "minPrice", Issue: "cannot exceed maxPrice"})
	}
	return query, details
}
