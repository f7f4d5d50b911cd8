package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"marketplace-storefront/internal/cart"
	"marketplace-storefront/internal/datasync"
	"marketplace-storefront/internal/models"
)

// CartHandler exposes the cart operations
type CartHandler struct {
	cart *cart.Service
	sync *datasync.Manager
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cart *cart.Service, sync *datasync.Manager) *CartHandler {
	return &CartHandler{cart: cart, sync: sync}
}

// AddItemRequest is the body of POST /v1/cart/items
type AddItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"selectedColor"`
	Size      string `json:"selectedSize"`
}

// UpdateItemRequest is the body of PATCH /v1/cart/items/{id}
type UpdateItemRequest struct {
	Quantity *int `json:"quantity"`
}

// GetCart handles GET /v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	items := h.cart.Items()
	writeJSONResponse(w, http.StatusOK, models.CartUpdated{
		Items:   items,
		Summary: cart.Summarize(items, h.cart.Pricing()),
	})
}

// GetSummary handles GET /v1/cart/summary
func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.cart.GetCartSummary())
}

// AddItem handles POST /v1/cart/items. The product is taken from the
// snapshot so clients cannot choose their own price.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Product ID is required", []models.ErrorDetail{
			{Field: "productId", Issue: "cannot be empty"},
		})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	product := h.findProduct(r, req.ProductID)
	if product == nil {
		writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Product not found: %s", req.ProductID), nil)
		return
	}

	if !h.cart.AddToCart(product, req.Quantity, req.Color, req.Size) {
		writeErrorResponse(w, http.StatusUnprocessableEntity, "rejected", "Item could not be added to the cart", []models.ErrorDetail{
			{Field: "quantity", Issue: "must be positive and the product must be in stock"},
		})
		return
	}
	h.GetCart(w, r)
}

// UpdateItem handles PATCH /v1/cart/items/{id}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	var req UpdateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Quantity is required", []models.ErrorDetail{
			{Field: "quantity", Issue: "is required"},
		})
		return
	}

	if !h.cart.UpdateQuantity(itemID, *req.Quantity) {
		writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Item not in cart: %s", itemID), nil)
		return
	}
	h.GetCart(w, r)
}

// RemoveItem handles DELETE /v1/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	if !h.cart.RemoveFromCart(itemID) {
		writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Item not in cart: %s", itemID), nil)
		return
	}
	h.GetCart(w, r)
}

// ClearCart handles DELETE /v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.cart.ClearCart()
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) findProduct(r *http.Request, id string) *models.Product {
	for _, p := range h.sync.GetCachedProducts(r.Context()) {
		if p.ID == id {
			return &p
		}
	}
	return nil
}
