package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultPageSize = 20

type OrdersHandler struct {
	svc StoreService
	log *zap.Logger
}

func NewOrdersHandler(svc StoreService, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{svc: svc, log: log}
}

// GET /api/v1/orders?page=1&page_size=20
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	page, err1 := queryInt(r, "page", 1)
	pageSize, err2 := queryInt(r, "page_size", defaultPageSize)
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "invalid_pagination", "page and page_size must be integers")
		return
	}

	orders, err := h.svc.ListOrders(r.Context(), buyer.ID, page, pageSize)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(r.Context(), buyer.ID, orderID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/orders/{order_id}/status
func (h *OrdersHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.svc.GetOrderStatus(r.Context(), buyer.ID, orderID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return "", false
	}
	return orderID, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
