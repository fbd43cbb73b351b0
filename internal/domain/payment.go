package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentAttempt struct {
	OrderID         string    `json:"order_id"`
	PaymentID       string    `json:"payment_id"`
	Status          string    `json:"status"`
	ConfirmationURL string    `json:"confirmation_url"`
	CreatedAt       time.Time `json:"created_at"`
}

// PaymentRequest is what the gateway needs to create a remote payment.
type PaymentRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	BuyerEmail  string
	Description string
}

// Remote payment statuses reported by the gateway.
const (
	RemoteStatusPending           = "pending"
	RemoteStatusWaitingForCapture = "waiting_for_capture"
	RemoteStatusSucceeded         = "succeeded"
	RemoteStatusCanceled          = "canceled"
)

// PaymentResult is the gateway's answer to a create or status call.
type PaymentResult struct {
	ID              string
	Status          string
	ConfirmationURL string
}

// TargetStatus maps a remote payment status to the order status it confirms.
// ok is false while the payment is still in flight.
func (p PaymentResult) TargetStatus() (OrderStatus, bool) {
	switch p.Status {
	case RemoteStatusSucceeded:
		return OrderStatusPaid, true
	case RemoteStatusCanceled:
		return OrderStatusCanceled, true
	default:
		return "", false
	}
}
