package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCart() *domain.Cart {
	return &domain.Cart{
		BuyerID: 7,
		Items: []domain.CartView{{
			CartItem:    domain.CartItem{ID: 1, ProductID: 10, Quantity: 2},
			ProductName: "mug",
			UnitPrice:   decimal.NewNullDecimal(decimal.RequireFromString("4.25")),
		}},
		TotalQuantity: 2,
		TotalPrice:    decimal.RequireFromString("8.50"),
	}
}

func TestGetCart_Success(t *testing.T) {
	carts := &CartMock{cart: sampleCart()}
	h, _ := newTestRouter(&StoreMock{}, carts)

	rec := do(t, h, http.MethodGet, "/api/v1/cart", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, carts.args)
	var cart domain.Cart
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cart))
	assert.Equal(t, 2, cart.TotalQuantity)
	assert.True(t, decimal.RequireFromString("8.5").Equal(cart.TotalPrice))
}

func TestAddItem(t *testing.T) {
	carts := &CartMock{cart: sampleCart()}
	h, _ := newTestRouter(&StoreMock{}, carts)

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":10,"quantity":2}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []int64{7, 10, 2}, carts.args)
}

func TestAddItem_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"bad json", `{`, "invalid_request"},
		{"bad product", `{"product_id":0,"quantity":1}`, "invalid_product_id"},
		{"zero quantity", `{"product_id":1,"quantity":0}`, "invalid_quantity"},
		{"too many", `{"product_id":1,"quantity":100}`, "invalid_quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := &CartMock{}
			h, _ := newTestRouter(&StoreMock{}, carts)
			rec := do(t, h, http.MethodPost, "/api/v1/cart/items", tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Nil(t, carts.args, "service not called")
		})
	}
}

func TestAddItem_UnknownProduct(t *testing.T) {
	h, _ := newTestRouter(&StoreMock{}, &CartMock{err: domain.ErrProductNotFound})
	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", `{"product_id":42,"quantity":1}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateQuantity(t *testing.T) {
	carts := &CartMock{cart: sampleCart()}
	h, _ := newTestRouter(&StoreMock{}, carts)

	rec := do(t, h, http.MethodPut, "/api/v1/cart/items/10", `{"quantity":5}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7, 10, 5}, carts.args)

	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/abc", `{"quantity":5}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveItem(t *testing.T) {
	carts := &CartMock{cart: sampleCart()}
	h, _ := newTestRouter(&StoreMock{}, carts)

	rec := do(t, h, http.MethodDelete, "/api/v1/cart/items/10", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7, 10}, carts.args)

	h, _ = newTestRouter(&StoreMock{}, &CartMock{err: domain.ErrCartItemNotFound})
	rec = do(t, h, http.MethodDelete, "/api/v1/cart/items/11", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearCart(t *testing.T) {
	carts := &CartMock{}
	h, _ := newTestRouter(&StoreMock{}, carts)

	rec := do(t, h, http.MethodDelete, "/api/v1/cart", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{7}, carts.args)
}
