package service

import (
	"context"
	"time"

	"github.com/fjod/go_cart/store-service/internal/cache"
	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/lock"
	"github.com/fjod/go_cart/store-service/internal/metrics"
	"github.com/fjod/go_cart/store-service/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Repository interface {
	GetCartSnapshot(ctx context.Context, buyerID int64) (*domain.CartSnapshot, error)
	ReserveAndCreateOrder(ctx context.Context, a *domain.Assembly, idempotencyKey string) error
	GetOrderIDByIdempotencyKey(ctx context.Context, key string) (string, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]*domain.Order, int, error)
	UpdateOrderStatus(ctx context.Context, orderID string, to domain.OrderStatus) (domain.OrderStatus, bool, error)
	AttachPayment(ctx context.Context, attempt *domain.PaymentAttempt) error
	GetLatestUnpaidOrder(ctx context.Context, buyerID int64) (*domain.Order, error)
	GetPaymentAttempt(ctx context.Context, orderID string) (*domain.PaymentAttempt, error)
	GetOrderIDByPaymentID(ctx context.Context, paymentID string) (string, error)
}

type PaymentGateway interface {
	CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.PaymentResult, error)
}

type Notifier interface {
	Notify(n notify.Notification)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (lock.Release, error)
}

type CheckoutService interface {
	Checkout(ctx context.Context, request *CheckoutRequest) (*CheckoutResult, error)
	RetryPayment(ctx context.Context, buyer domain.Buyer, orderID string) (*CheckoutResult, error)
}

type CheckoutServiceImpl struct {
	repo     Repository
	gateway  PaymentGateway
	notifier Notifier
	locker   Locker
	carts    cache.CartCache
	log      *zap.Logger
	metrics  *metrics.Metrics
	currency string
	now      func() time.Time

	group singleflight.Group
}

func NewCheckoutService(
	repo Repository,
	gateway PaymentGateway,
	notifier Notifier,
	locker Locker,
	carts cache.CartCache,
	log *zap.Logger,
	m *metrics.Metrics,
	currency string,
) *CheckoutServiceImpl {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if carts == nil {
		carts = cache.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutServiceImpl{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		locker:   locker,
		carts:    carts,
		log:      log,
		metrics:  m,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}
