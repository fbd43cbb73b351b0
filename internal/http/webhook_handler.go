package http

import (
	"errors"
	"net/http"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"go.uber.org/zap"
)

// Gateway notification events that can settle an order.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

type WebhookHandler struct {
	svc StoreService
	log *zap.Logger
}

func NewWebhookHandler(svc StoreService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, log: log}
}

type WebhookRequestDTO struct {
	Event  string `json:"event"`
	Object struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Metadata struct {
			OrderID string `json:"order_id"`
		} `json:"metadata"`
	} `json:"object"`
}

// POST /api/v1/payments/webhook
//
// The notification only names the payment. Its state is read back from the
// gateway before anything is applied.
func (h *WebhookHandler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	switch req.Event {
	case EventPaymentSucceeded, EventPaymentCanceled:
	default:
		h.log.Debug("ignoring gateway notification", zap.String("event", req.Event))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if req.Object.ID == "" {
		respondError(w, http.StatusBadRequest, "missing_payment_id", "object.id is required")
		return
	}

	err := h.svc.SyncPayment(r.Context(), req.Object.ID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		// acknowledged so the gateway stops redelivering it
		h.log.Warn("notification for unknown payment",
			zap.String("event", req.Event),
			zap.String("payment_id", req.Object.ID),
			zap.String("order_id", req.Object.Metadata.OrderID))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		h.log.Warn("gateway notification not applied",
			zap.String("event", req.Event),
			zap.String("payment_id", req.Object.ID),
			zap.String("order_id", req.Object.Metadata.OrderID),
			zap.Error(err))
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
