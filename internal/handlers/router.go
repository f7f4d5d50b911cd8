package handlers

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	"marketplace-storefront/internal/middleware"
	"marketplace-storefront/internal/telemetry"
)

// requestTimeout must stay above the longest events long-poll
const requestTimeout = 90 * time.Second

// Handlers groups every handler the router serves
type Handlers struct {
	Health    *HealthHandler
	Catalog   *CatalogHandler
	Cart      *CartHandler
	Sync      *SyncHandler
	Favorites *FavoritesHandler
	Checkout  *CheckoutHandler
	Session   *SessionHandler
	Events    *EventsHandler
}

// NewRouter wires the agent API. Everything under /v1 requires one of apiKeys.
func NewRouter(h Handlers, apiKeys []string, metrics *telemetry.StorefrontTelemetry) *mux.Router {
	r := mux.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))
	r.Use(telemetry.Middleware(metrics))

	// Health check endpoint (no auth required)
	r.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.AuthMiddleware(apiKeys))

	v1.HandleFunc("/catalog/products", h.Catalog.ListProducts).Methods(http.MethodGet)
	v1.HandleFunc("/catalog/products/{id}", h.Catalog.GetProduct).Methods(http.MethodGet)
	v1.HandleFunc("/catalog/featured", h.Catalog.ListFeatured).Methods(http.MethodGet)
	v1.HandleFunc("/catalog/categories", h.Catalog.ListCategories).Methods(http.MethodGet)
	v1.HandleFunc("/companies", h.Catalog.ListCompanies).Methods(http.MethodGet)

	v1.HandleFunc("/cart", h.Cart.GetCart).Methods(http.MethodGet)
	v1.HandleFunc("/cart", h.Cart.ClearCart).Methods(http.MethodDelete)
	v1.HandleFunc("/cart/summary", h.Cart.GetSummary).Methods(http.MethodGet)
	v1.HandleFunc("/cart/items", h.Cart.AddItem).Methods(http.MethodPost)
	v1.HandleFunc("/cart/items/{id}", h.Cart.UpdateItem).Methods(http.MethodPatch)
	v1.HandleFunc("/cart/items/{id}", h.Cart.RemoveItem).Methods(http.MethodDelete)

	v1.HandleFunc("/sync/status", h.Sync.GetStatus).Methods(http.MethodGet)
	v1.HandleFunc("/sync/force", h.Sync.ForceSync).Methods(http.MethodPost)
	v1.HandleFunc("/sync/signals/{signal}", h.Sync.Signal).Methods(http.MethodPost)

	v1.HandleFunc("/favorites", h.Favorites.List).Methods(http.MethodGet)
	v1.HandleFunc("/favorites/products", h.Favorites.ListProducts).Methods(http.MethodGet)
	v1.HandleFunc("/favorites/products/{id}", h.Favorites.ToggleProduct).Methods(http.MethodPost)
	v1.HandleFunc("/favorites/stores", h.Favorites.ListStores).Methods(http.MethodGet)
	v1.HandleFunc("/favorites/stores/{id}", h.Favorites.ToggleStore).Methods(http.MethodPost)

	v1.HandleFunc("/checkout/preview", h.Checkout.Preview).Methods(http.MethodPost)
	v1.HandleFunc("/checkout", h.Checkout.Submit).Methods(http.MethodPost)

	v1.HandleFunc("/session", h.Session.GetSession).Methods(http.MethodGet)
	v1.HandleFunc("/session/login", h.Session.Login).Methods(http.MethodPost)
	v1.HandleFunc("/session/logout", h.Session.Logout).Methods(http.MethodPost)

	v1.HandleFunc("/events", h.Events.GetEvents).Methods(http.MethodGet)

	return r
}
