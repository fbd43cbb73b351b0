package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/metrics"
	"github.com/fjod/go_cart/store-service/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type StoreMock struct {
	checkoutReq *service.CheckoutRequest
	result      *service.CheckoutResult
	err         error
	order       *domain.Order
	page        *domain.OrderPage
	listArgs    [3]int64
	status      *service.OrderStatusView
	synced      []string
}

func (m *StoreMock) Checkout(_ context.Context, req *service.CheckoutRequest) (*service.CheckoutResult, error) {
	m.checkoutReq = req
	return m.result, m.err
}

func (m *StoreMock) RetryPayment(context.Context, domain.Buyer, string) (*service.CheckoutResult, error) {
	return m.result, m.err
}

func (m *StoreMock) GetOrder(context.Context, int64, string) (*domain.Order, error) {
	return m.order, m.err
}

func (m *StoreMock) ListOrders(_ context.Context, buyerID int64, page, pageSize int) (*domain.OrderPage, error) {
	m.listArgs = [3]int64{buyerID, int64(page), int64(pageSize)}
	return m.page, m.err
}

func (m *StoreMock) GetOrderStatus(context.Context, int64, string) (*service.OrderStatusView, error) {
	return m.status, m.err
}

func (m *StoreMock) SyncPayment(_ context.Context, paymentID string) error {
	m.synced = append(m.synced, paymentID)
	return m.err
}

type CartMock struct {
	cart *domain.Cart
	err  error
	args []int64
}

func (m *CartMock) GetCart(_ context.Context, buyerID int64) (*domain.Cart, error) {
	m.args = []int64{buyerID}
	return m.cart, m.err
}

func (m *CartMock) AddItem(_ context.Context, buyerID, productID int64, quantity int) (*domain.Cart, error) {
	m.args = []int64{buyerID, productID, int64(quantity)}
	return m.cart, m.err
}

func (m *CartMock) UpdateItem(_ context.Context, buyerID, productID int64, quantity int) (*domain.Cart, error) {
	m.args = []int64{buyerID, productID, int64(quantity)}
	return m.cart, m.err
}

func (m *CartMock) RemoveItem(_ context.Context, buyerID, productID int64) (*domain.Cart, error) {
	m.args = []int64{buyerID, productID}
	return m.cart, m.err
}

func (m *CartMock) Clear(_ context.Context, buyerID int64) error {
	m.args = []int64{buyerID}
	return m.err
}

func newTestRouter(store *StoreMock, carts *CartMock) (http.Handler, *metrics.Metrics) {
	m := metrics.New()
	return NewRouter(RouterConfig{
		Store:   store,
		Carts:   carts,
		Log:     zap.NewNop(),
		Metrics: m,
	}), m
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(HeaderUserID, "7")
	req.Header.Set(HeaderUserEmail, "alice@example.com")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleOrder() *domain.Order {
	return &domain.Order{
		ID:          "3d3c8d4e-1b3a-4c1e-8f59-0e0e4f6a1b2c",
		BuyerID:     7,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("25.50"),
		Currency:    "RUB",
		Items: []domain.OrderItem{{
			ProductID: 1,
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("10.00"),
			LineTotal: decimal.RequireFromString("20.00"),
		}},
	}
}
