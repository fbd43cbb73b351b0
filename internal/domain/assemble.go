package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Assembly is an order staged in memory together with the stock decrements
// and the cart lines that must be committed with it.
type Assembly struct {
	Order      *Order
	Decrements []StockDecrement
	// cart lines as they were snapshotted; they leave the cart with the order
	Consumed []CartItem
}

// AssembleOrder validates the snapshot line by line and builds a pending order.
// It performs no I/O; the stock checks here are re-validated when the
// decrements are committed.
func AssembleOrder(snapshot *CartSnapshot, currency string, now time.Time) (*Assembly, error) {
	if snapshot == nil || len(snapshot.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	order := &Order{
		ID:        uuid.New().String(),
		BuyerID:   snapshot.BuyerID,
		Status:    OrderStatusPending,
		Currency:  currency,
		Items:     make([]OrderItem, 0, len(snapshot.Lines)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	consumed := make([]CartItem, 0, len(snapshot.Lines))

	total := decimal.Zero
	staged := make(map[int64]int, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		p := line.Product
		if p == nil || !p.Active {
			return nil, &ProductUnavailableError{ProductID: line.ProductID}
		}
		if !p.Price.Valid {
			return nil, &ProductNotPricedError{ProductID: p.ID}
		}
		if line.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		// a product appears once per cart; summing covers snapshots built by hand
		requested := staged[p.ID] + line.Quantity
		if p.Stock < requested {
			return nil, &InsufficientStockError{ProductID: p.ID, Requested: requested, Available: p.Stock}
		}
		staged[p.ID] = requested

		unitPrice := p.Price.Decimal
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		order.Items = append(order.Items, OrderItem{
			ProductID: p.ID,
			Quantity:  line.Quantity,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
		consumed = append(consumed, line.CartItem)
	}
	order.TotalAmount = total

	decrements := make([]StockDecrement, 0, len(staged))
	for id, qty := range staged {
		decrements = append(decrements, StockDecrement{ProductID: id, Quantity: qty})
	}
	// fixed lock order across concurrent checkouts
	sort.Slice(decrements, func(i, j int) bool { return decrements[i].ProductID < decrements[j].ProductID })

	return &Assembly{Order: order, Decrements: decrements, Consumed: consumed}, nil
}
