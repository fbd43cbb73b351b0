package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/service"
	"go.uber.org/zap"
)

const maxRequestBodySize = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// errorStatus maps service errors onto HTTP status codes and stable error
// codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrProductNotPriced):
		return http.StatusBadRequest, "product_not_priced"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, service.ErrInvalidPagination):
		return http.StatusBadRequest, "invalid_pagination"
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, domain.ErrProductUnavailable):
		return http.StatusConflict, "product_unavailable"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict, "checkout_in_progress"
	case errors.Is(err, domain.ErrOrderNotPayable):
		return http.StatusConflict, "order_not_payable"
	case errors.Is(err, domain.ErrInconsistentStatusTransition):
		return http.StatusConflict, "inconsistent_status_transition"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrCartItemNotFound):
		return http.StatusNotFound, "cart_item_not_found"
	case errors.Is(err, domain.ErrGatewayMisconfigured):
		return http.StatusServiceUnavailable, "gateway_misconfigured"
	case errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusUnprocessableEntity, "payment_rejected"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway, "gateway_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func handleServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		respondError(w, status, code, "internal server error")
		return
	}
	respondError(w, status, code, err.Error())
}
