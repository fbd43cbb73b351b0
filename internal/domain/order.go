package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Buyer struct {
	ID    int64
	Email string
}

type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID          string          `json:"id"`
	BuyerID     int64           `json:"buyer_id"`
	BuyerEmail  string          `json:"-"`
	Status      OrderStatus     `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	PaymentID   *string         `json:"payment_id,omitempty"`
	Items       []OrderItem     `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Description is the text sent to the gateway and shown on the receipt.
func (o *Order) Description() string {
	return "Order " + o.ID
}

// SumLines recomputes the order total from its lines.
func (o *Order) SumLines() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal)
	}
	return total
}

type OrderPage struct {
	Items    []*Order `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// Outbox event types written alongside order state changes.
const (
	EventOrderCreated  = "order.created"
	EventOrderPaid     = "order.paid"
	EventOrderCanceled = "order.canceled"
)

func EventTypeFor(s OrderStatus) string {
	switch s {
	case OrderStatusPaid:
		return EventOrderPaid
	case OrderStatusCanceled:
		return EventOrderCanceled
	default:
		return EventOrderCreated
	}
}
