package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/lock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCheckout_Success(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 5)
	env.product(t, 2, "5.50", 1)
	env.addToCart(t, alice.ID, 1, 2)
	env.addToCart(t, alice.ID, 2, 1)

	res, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	require.NoError(t, err)

	order := res.Order
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("25.50").Equal(order.TotalAmount))
	assert.Equal(t, "https://pay.test/confirm/pay-1", res.ConfirmationURL)
	assert.False(t, res.Replayed)
	require.NotNil(t, order.PaymentID)
	assert.Equal(t, "pay-1", *order.PaymentID)

	stockA, activeA := env.stock(t, 1)
	stockB, activeB := env.stock(t, 2)
	assert.Equal(t, 3, stockA)
	assert.True(t, activeA)
	assert.Equal(t, 0, stockB)
	assert.False(t, activeB)

	assert.Equal(t, 0, env.cartLines(t, alice.ID))

	require.Len(t, env.gateway.requests, 1)
	req := env.gateway.requests[0]
	assert.Equal(t, order.ID, req.OrderID)
	assert.Equal(t, "alice@example.com", req.BuyerEmail)
	assert.Equal(t, "25.50", req.Amount.StringFixed(2))

	sent := env.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, order.ID, sent[0].OrderID)
	assert.Equal(t, "alice@example.com", sent[0].To)
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Zero(t, env.gateway.createCalls())
}

func TestCheckout_ValidationErrorsLeaveNoTrace(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, env *testEnv)
		want  error
	}{
		{
			name: "unpriced product",
			setup: func(t *testing.T, env *testEnv) {
				env.product(t, 1, "10.00", 5)
				env.product(t, 2, "", 5)
				env.addToCart(t, alice.ID, 1, 1)
				env.addToCart(t, alice.ID, 2, 1)
			},
			want: domain.ErrProductNotPriced,
		},
		{
			name: "more than in stock",
			setup: func(t *testing.T, env *testEnv) {
				env.product(t, 1, "10.00", 5)
				env.product(t, 2, "1.00", 2)
				env.addToCart(t, alice.ID, 1, 1)
				env.addToCart(t, alice.ID, 2, 3)
			},
			want: domain.ErrInsufficientStock,
		},
		{
			name: "withdrawn product",
			setup: func(t *testing.T, env *testEnv) {
				env.product(t, 1, "10.00", 5)
				env.addToCart(t, alice.ID, 1, 1)
				require.NoError(t, env.repo.UpsertProduct(context.Background(), &domain.Product{
					ID: 1, Name: "gone", Price: decimal.NewNullDecimal(decimal.NewFromInt(10)), Stock: 5, Active: false,
				}))
			},
			want: domain.ErrProductUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			tt.setup(t, env)

			_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsClientError(err))

			stock, _ := env.stock(t, 1)
			assert.Equal(t, 5, stock)
			_, total, err := env.repo.ListOrdersByBuyer(context.Background(), alice.ID, 10, 0)
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Zero(t, env.gateway.createCalls())
			assert.Empty(t, env.notifier.all())
		})
	}
}

func TestCheckout_GatewayFailureKeepsOrderPending(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 2)
	env.gateway.setCreateErr(domain.ErrGatewayUnavailable)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	var initErr *PaymentInitiationError
	require.True(t, errors.As(err, &initErr))
	orderID := initErr.Order.ID

	status, err := env.svc.GetOrderStatus(context.Background(), alice.ID, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, status.Status)
	assert.Equal(t, domain.StatusMessage(orderID, domain.OrderStatusPending), status.Message)

	stock, _ := env.stock(t, 1)
	assert.Equal(t, 3, stock, "reservation is not rolled back")
	assert.Equal(t, 0, env.cartLines(t, alice.ID), "the cart went into the order")

	env.gateway.setCreateErr(nil)
	res, err := env.svc.RetryPayment(context.Background(), alice, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderID, res.Order.ID)
	assert.NotEmpty(t, res.ConfirmationURL)
	assert.Equal(t, 0, env.cartLines(t, alice.ID))

	stock, _ = env.stock(t, 1)
	assert.Equal(t, 3, stock)
}

func TestCheckout_MisconfiguredGatewayIsLoggedAsError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	env := setupTestEnv(t, func(s *CheckoutServiceImpl) { s.log = zap.New(core) })
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 1)
	env.gateway.setCreateErr(domain.ErrGatewayMisconfigured)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	assert.ErrorIs(t, err, domain.ErrGatewayMisconfigured)

	entries := logs.FilterMessage("payment gateway misconfigured, order left pending").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
}

func TestCheckout_ClientKeyReplaysOrder(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 1)

	req := &CheckoutRequest{Buyer: alice, IdempotencyKey: "k-1"}
	first, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	second, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.ConfirmationURL, second.ConfirmationURL)
	assert.Equal(t, 1, env.gateway.createCalls())

	stock, _ := env.stock(t, 1)
	assert.Equal(t, 4, stock)
}

func TestCheckout_ClientKeyIsScopedPerBuyer(t *testing.T) {
	env := setupTestEnv(t)
	bob := domain.Buyer{ID: 8, Email: "bob@example.com"}
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 1)
	env.addToCart(t, bob.ID, 1, 1)

	a, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice, IdempotencyKey: "same"})
	require.NoError(t, err)
	b, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: bob, IdempotencyKey: "same"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Order.ID, b.Order.ID)
	assert.False(t, b.Replayed)
}

func TestCheckout_EmptyCartResumesUnpaidOrder(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 2)
	env.gateway.setCreateErr(domain.ErrGatewayUnavailable)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	var initErr *PaymentInitiationError
	require.True(t, errors.As(err, &initErr))

	env.gateway.setCreateErr(nil)
	res, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, initErr.Order.ID, res.Order.ID)
	assert.NotEmpty(t, res.ConfirmationURL)

	stock, _ := env.stock(t, 1)
	assert.Equal(t, 3, stock, "stock reserved once")
	assert.Equal(t, 0, env.cartLines(t, alice.ID))
	assert.Equal(t, 2, env.gateway.createCalls())
}

func TestCheckout_EditedCartAfterFailedPaymentReservesOnlyNewItems(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 5)
	env.product(t, 2, "1.00", 5)
	env.addToCart(t, alice.ID, 1, 2)
	env.gateway.setCreateErr(domain.ErrGatewayUnavailable)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	var initErr *PaymentInitiationError
	require.True(t, errors.As(err, &initErr))
	first := initErr.Order

	env.gateway.setCreateErr(nil)
	env.addToCart(t, alice.ID, 2, 1)

	res, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotEqual(t, first.ID, res.Order.ID)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, int64(2), res.Order.Items[0].ProductID)

	stockA, _ := env.stock(t, 1)
	stockB, _ := env.stock(t, 2)
	assert.Equal(t, 3, stockA, "product 1 reserved once")
	assert.Equal(t, 4, stockB)

	// the first order can still be paid
	retried, err := env.svc.RetryPayment(context.Background(), alice, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retried.Order.ID)
	assert.NotEmpty(t, retried.ConfirmationURL)

	stockA, _ = env.stock(t, 1)
	assert.Equal(t, 3, stockA)
}

func TestCheckout_ReplayWaitsForPaymentLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewRedisLocker(client, 30*time.Second)

	env := setupTestEnv(t, func(s *CheckoutServiceImpl) { s.locker = locker })
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 1)
	env.gateway.setCreateErr(domain.ErrGatewayUnavailable)

	req := &CheckoutRequest{Buyer: alice, IdempotencyKey: "k-1"}
	_, err := env.svc.Checkout(context.Background(), req)
	var initErr *PaymentInitiationError
	require.True(t, errors.As(err, &initErr))
	env.gateway.setCreateErr(nil)

	// a retry of the same order is talking to the gateway
	release, err := locker.Acquire(context.Background(), "payment:"+initErr.Order.ID)
	require.NoError(t, err)

	_, err = env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrCheckoutInProgress)
	_, err = env.svc.RetryPayment(context.Background(), alice, initErr.Order.ID)
	assert.ErrorIs(t, err, domain.ErrCheckoutInProgress)
	assert.Equal(t, 1, env.gateway.createCalls())

	require.NoError(t, release(context.Background()))
	res, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, initErr.Order.ID, res.Order.ID)
	assert.Equal(t, 2, env.gateway.createCalls())
	assert.False(t, mr.Exists("lock:payment:"+initErr.Order.ID), "payment lock released")
}

func TestCheckout_ConcurrentRetriesCreateOneOrder(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 50)
	env.addToCart(t, alice.ID, 1, 2)

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		orderID = map[string]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice, IdempotencyKey: "retry-me"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			orderID[res.Order.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, orderID, 1)
	stock, _ := env.stock(t, 1)
	assert.Equal(t, 48, stock)
	assert.Equal(t, 1, env.gateway.createCalls())
}

func TestCheckout_ConcurrentWithoutKeyNeverDoubleOrders(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 50)
	env.addToCart(t, alice.ID, 1, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
			// late callers find the cart already consumed
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrEmptyCart)
			}
		}()
	}
	wg.Wait()

	_, total, err := env.repo.ListOrdersByBuyer(context.Background(), alice.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	stock, _ := env.stock(t, 1)
	assert.Equal(t, 48, stock)
}

func TestCheckout_BuyersRacingForLastUnits(t *testing.T) {
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", 3)

	buyers := []domain.Buyer{{ID: 1, Email: "a@x"}, {ID: 2, Email: "b@x"}}
	for _, b := range buyers {
		env.addToCart(t, b.ID, 1, 2)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for _, b := range buyers {
		wg.Add(1)
		go func(b domain.Buyer) {
			defer wg.Done()
			_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: b})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, rejected)
	stock, _ := env.stock(t, 1)
	assert.Equal(t, 1, stock)
}

func TestCheckout_LastUnitsNeverOversold(t *testing.T) {
	const stock = 5
	env := setupTestEnv(t)
	env.product(t, 1, "10.00", stock)

	buyers := make([]domain.Buyer, 0, stock+1)
	for id := int64(1); id <= stock+1; id++ {
		b := domain.Buyer{ID: id, Email: fmt.Sprintf("buyer%d@example.com", id)}
		env.addToCart(t, b.ID, 1, 1)
		buyers = append(buyers, b)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for _, b := range buyers {
		wg.Add(1)
		go func(b domain.Buyer) {
			defer wg.Done()
			_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: b})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			// a late snapshot already sees the product sold out and deactivated
			case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrProductUnavailable):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, stock, success)
	assert.Equal(t, 1, rejected)
	left, active := env.stock(t, 1)
	assert.Equal(t, 0, left)
	assert.False(t, active)
	assert.Equal(t, stock, env.gateway.createCalls())
}

func TestCheckout_LockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := lock.NewRedisLocker(client, 30*time.Second)

	env := setupTestEnv(t, func(s *CheckoutServiceImpl) { s.locker = locker })
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 1)

	release, err := locker.Acquire(context.Background(), "checkout:7")
	require.NoError(t, err)

	_, err = env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	assert.ErrorIs(t, err, domain.ErrCheckoutInProgress)

	require.NoError(t, release(context.Background()))
	_, err = env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:checkout:7"), "lock released after checkout")
}

func TestCheckout_LockStoreDownStillChecksOut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	env := setupTestEnv(t, func(s *CheckoutServiceImpl) { s.locker = lock.NewRedisLocker(client, time.Second) })
	env.product(t, 1, "10.00", 5)
	env.addToCart(t, alice.ID, 1, 1)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{Buyer: alice})
	assert.NoError(t, err)
}
