package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/service"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// StoreService is what the order and checkout handlers need from the service
// layer.
type StoreService interface {
	service.CheckoutService
	GetOrder(ctx context.Context, buyerID int64, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, buyerID int64, page, pageSize int) (*domain.OrderPage, error)
	GetOrderStatus(ctx context.Context, buyerID int64, orderID string) (*service.OrderStatusView, error)
	SyncPayment(ctx context.Context, paymentID string) error
}

type CheckoutHandler struct {
	svc StoreService
	log *zap.Logger
}

func NewCheckoutHandler(svc StoreService, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, log: log}
}

type CheckoutResponseDTO struct {
	Order           *domain.Order `json:"order"`
	ConfirmationURL string        `json:"confirmation_url"`
	Replayed        bool          `json:"replayed,omitempty"`
}

type PaymentPendingResponseDTO struct {
	Order    *domain.Order `json:"order"`
	RetryURL string        `json:"retry_url"`
	Code     string        `json:"code"`
	Error    string        `json:"error"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	res, err := h.svc.Checkout(r.Context(), &service.CheckoutRequest{
		Buyer:          buyer,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		h.respondCheckoutError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, toCheckoutResponse(res))
}

// POST /api/v1/orders/{order_id}/payment
func (h *CheckoutHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	buyer, ok := getBuyerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RetryPayment(r.Context(), buyer, orderID)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCheckoutResponse(res))
}

// respondCheckoutError answers 202 when the order exists but its payment could
// not be started, so the client knows to retry payment rather than checkout.
func (h *CheckoutHandler) respondCheckoutError(w http.ResponseWriter, err error) {
	var initErr *service.PaymentInitiationError
	if !errors.As(err, &initErr) {
		handleServiceError(w, h.log, err)
		return
	}
	_, code := errorStatus(initErr.Err)
	respondJSON(w, http.StatusAccepted, PaymentPendingResponseDTO{
		Order:    initErr.Order,
		RetryURL: "/api/v1/orders/" + initErr.Order.ID + "/payment",
		Code:     code,
		Error:    initErr.Err.Error(),
	})
}

func toCheckoutResponse(res *service.CheckoutResult) CheckoutResponseDTO {
	return CheckoutResponseDTO{
		Order:           res.Order,
		ConfirmationURL: res.ConfirmationURL,
		Replayed:        res.Replayed,
	}
}
