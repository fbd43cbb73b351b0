package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view the checkout needs. Price is null until the
// product has been priced.
type Product struct {
	ID        int64
	Name      string
	Price     decimal.NullDecimal
	Stock     int
	Active    bool
	UpdatedAt time.Time
}

// StockDecrement is a staged change against one product's stock. Active is not
// staged: it is recomputed from the resulting stock when the decrement is applied.
type StockDecrement struct {
	ProductID int64
	Quantity  int
}
