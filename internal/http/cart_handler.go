package http

import (
	"net/http"
	"strconv"

	"github.com/fjod/go_cart/store-service/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CartHandler struct {
	carts service.CartService
	log   *zap.Logger
}

func NewCartHandler(carts service.CartService, log *zap.Logger) *CartHandler {
	return &CartHandler{carts: carts, log: log}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cart, err := h.carts.GetCart(r.Context(), buyer.ID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	cart, err := h.carts.AddItem(r.Context(), buyer.ID, req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, cart)
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	cart, err := h.carts.UpdateItem(r.Context(), buyer.ID, productID, req.Quantity)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(r.Context(), buyer.ID, productID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	if err := h.carts.Clear(r.Context(), buyer.ID); err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}
