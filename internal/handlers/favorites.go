package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"marketplace-storefront/internal/favorites"
	"marketplace-storefront/internal/models"
)

// FavoritesHandler exposes favorite products and stores
type FavoritesHandler struct {
	favorites *favorites.Service
}

// NewFavoritesHandler creates a new favorites handler
func NewFavoritesHandler(favorites *favorites.Service) *FavoritesHandler {
	return &FavoritesHandler{favorites: favorites}
}

// ToggleResponse tells the state of an id after a toggle
type ToggleResponse struct {
	ID       string `json:"id"`
	Favorite bool   `json:"favorite"`
}

// List handles GET /v1/favorites
func (h *FavoritesHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.FavoritesUpdated{
		Favorites:      h.favorites.Favorites(),
		FavoriteStores: h.favorites.FavoriteStores(),
	})
}

// ListProducts handles GET /v1/favorites/products
func (h *FavoritesHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string][]string{"items": h.favorites.Favorites()})
}

// ToggleProduct handles POST /v1/favorites/products/{id}
func (h *FavoritesHandler) ToggleProduct(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSONResponse(w, http.StatusOK, ToggleResponse{ID: id, Favorite: h.favorites.ToggleFavorite(id)})
}

// ListStores handles GET /v1/favorites/stores
func (h *FavoritesHandler) ListStores(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string][]string{"items": h.favorites.FavoriteStores()})
}

// ToggleStore handles POST /v1/favorites/stores/{id}
func (h *FavoritesHandler) ToggleStore(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSONResponse(w, http.StatusOK, ToggleResponse{ID: id, Favorite: h.favorites.ToggleFavoriteStore(id)})
}
