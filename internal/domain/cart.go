package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// CartLine is a cart item joined with the product state read in the same
// snapshot. Product is nil when the referenced product no longer exists.
type CartLine struct {
	CartItem
	Product *Product
}

// CartSnapshot represents the buyer's cart at checkout time, ordered by cart
// item id.
type CartSnapshot struct {
	BuyerID    int64
	Lines      []CartLine
	CapturedAt time.Time
}

// Fingerprint identifies the snapshot's content. Cart item ids are part of it,
// so a cart rebuilt after a completed checkout never collides with the old one.
func (s *CartSnapshot) Fingerprint() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "buyer:%d", s.BuyerID)
	for _, l := range s.Lines {
		_, _ = fmt.Fprintf(h, "|%d:%d:%d", l.ID, l.ProductID, l.Quantity)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cart is the buyer facing view of the cart with running totals. Lines without
// a price contribute zero to TotalPrice.
type Cart struct {
	BuyerID       int64           `json:"buyer_id"`
	Items         []CartView      `json:"items"`
	TotalQuantity int             `json:"total_quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

type CartView struct {
	CartItem
	ProductName string              `json:"product_name"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
}

func NewCart(snapshot *CartSnapshot) *Cart {
	cart := &Cart{
		BuyerID:    snapshot.BuyerID,
		Items:      make([]CartView, 0, len(snapshot.Lines)),
		TotalPrice: decimal.Zero,
	}
	for _, l := range snapshot.Lines {
		view := CartView{CartItem: l.CartItem}
		if l.Product != nil {
			view.ProductName = l.Product.Name
			view.UnitPrice = l.Product.Price
			if l.Product.Price.Valid {
				cart.TotalPrice = cart.TotalPrice.Add(l.Product.Price.Decimal.Mul(decimal.NewFromInt(int64(l.Quantity))))
			}
		}
		cart.TotalQuantity += l.Quantity
		cart.Items = append(cart.Items, view)
	}
	return cart
}
