package domain

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id int64, price string, stock int) *Product {
	return &Product{
		ID:     id,
		Name:   "product",
		Price:  decimal.NewNullDecimal(decimal.RequireFromString(price)),
		Stock:  stock,
		Active: stock > 0,
	}
}

func snapshotOf(lines ...CartLine) *CartSnapshot {
	return &CartSnapshot{BuyerID: 7, Lines: lines, CapturedAt: time.Now()}
}

func line(id int64, p *Product, productID int64, qty int) CartLine {
	return CartLine{CartItem: CartItem{ID: id, ProductID: productID, Quantity: qty}, Product: p}
}

func TestAssembleOrder_Example(t *testing.T) {
	a := product(1, "10.00", 5)
	b := product(2, "5.50", 3)

	res, err := AssembleOrder(snapshotOf(line(1, a, 1, 2), line(2, b, 2, 1)), "RUB", time.Now())
	require.NoError(t, err)

	order := res.Order
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, int64(7), order.BuyerID)
	assert.True(t, decimal.RequireFromString("25.50").Equal(order.TotalAmount))
	require.Len(t, order.Items, 2)
	assert.True(t, decimal.RequireFromString("10.00").Equal(order.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("20.00").Equal(order.Items[0].LineTotal))
	assert.True(t, decimal.RequireFromString("5.50").Equal(order.Items[1].UnitPrice))

	assert.Equal(t, []StockDecrement{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}, res.Decrements)
	assert.Equal(t, []CartItem{{ID: 1, ProductID: 1, Quantity: 2}, {ID: 2, ProductID: 2, Quantity: 1}}, res.Consumed)
	// nothing is applied to the products themselves
	assert.Equal(t, 5, a.Stock)
}

func TestAssembleOrder_EmptyCart(t *testing.T) {
	_, err := AssembleOrder(snapshotOf(), "RUB", time.Now())
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = AssembleOrder(nil, "RUB", time.Now())
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestAssembleOrder_ValidationOrder(t *testing.T) {
	inactive := product(3, "1.00", 10)
	inactive.Active = false
	unpriced := &Product{ID: 4, Stock: 10, Active: true}
	short := product(5, "2.00", 1)

	tests := []struct {
		name   string
		lines  []CartLine
		target error
	}{
		{"missing product", []CartLine{line(1, nil, 99, 1)}, ErrProductUnavailable},
		{"inactive product", []CartLine{line(1, inactive, 3, 1)}, ErrProductUnavailable},
		{"no price", []CartLine{line(1, unpriced, 4, 1)}, ErrProductNotPriced},
		{"not enough stock", []CartLine{line(1, short, 5, 2)}, ErrInsufficientStock},
		{"first failure wins", []CartLine{line(1, short, 5, 2), line(2, nil, 99, 1)}, ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := AssembleOrder(snapshotOf(tt.lines...), "RUB", time.Now())
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestAssembleOrder_TypedErrors(t *testing.T) {
	_, err := AssembleOrder(snapshotOf(line(1, nil, 42, 1)), "RUB", time.Now())
	var unavailable *ProductUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, int64(42), unavailable.ProductID)

	_, err = AssembleOrder(snapshotOf(line(1, product(8, "3.00", 2), 8, 5)), "RUB", time.Now())
	var stock *InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, int64(8), stock.ProductID)
	assert.Equal(t, 5, stock.Requested)
	assert.Equal(t, 2, stock.Available)
}

func TestAssembleOrder_TotalsAreExact(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		var lines []CartLine
		expected := decimal.Zero
		n := 1 + rnd.Intn(8)
		for j := 0; j < n; j++ {
			// prices like 0.01 .. 999.99, values that drift in float64
			price := decimal.New(int64(1+rnd.Intn(99999)), -2)
			qty := 1 + rnd.Intn(20)
			p := &Product{ID: int64(j + 1), Price: decimal.NewNullDecimal(price), Stock: qty, Active: true}
			lines = append(lines, line(int64(j+1), p, p.ID, qty))
			expected = expected.Add(price.Mul(decimal.NewFromInt(int64(qty))))
		}

		res, err := AssembleOrder(snapshotOf(lines...), "RUB", time.Now())
		require.NoError(t, err)
		assert.True(t, expected.Equal(res.Order.TotalAmount))
		assert.True(t, res.Order.SumLines().Equal(res.Order.TotalAmount))
	}
}

func TestCartSnapshot_Fingerprint(t *testing.T) {
	p := product(1, "1.00", 5)
	s1 := snapshotOf(line(10, p, 1, 2))
	s2 := snapshotOf(line(10, p, 1, 2))
	s3 := snapshotOf(line(11, p, 1, 2))
	s4 := snapshotOf(line(10, p, 1, 3))

	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())
	assert.NotEqual(t, s1.Fingerprint(), s3.Fingerprint())
	assert.NotEqual(t, s1.Fingerprint(), s4.Fingerprint())
}

func TestNewCart_Totals(t *testing.T) {
	unpriced := &Product{ID: 3, Name: "soon", Stock: 1, Active: true}
	cart := NewCart(snapshotOf(
		line(1, product(1, "10.00", 5), 1, 2),
		line(2, product(2, "5.50", 5), 2, 1),
		line(3, unpriced, 3, 4),
	))

	assert.Equal(t, 7, cart.TotalQuantity)
	assert.True(t, decimal.RequireFromString("25.50").Equal(cart.TotalPrice))
	assert.Len(t, cart.Items, 3)
	assert.False(t, cart.Items[2].UnitPrice.Valid)
}
