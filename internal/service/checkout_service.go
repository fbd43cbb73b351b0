package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/lock"
	"github.com/fjod/go_cart/store-service/internal/notify"
	r "github.com/fjod/go_cart/store-service/internal/repository"
	"go.uber.org/zap"
)

type CheckoutRequest struct {
	Buyer domain.Buyer
	// optional, scoped to the buyer; derived from the cart content when empty
	IdempotencyKey string
}

type CheckoutResult struct {
	Order           *domain.Order
	ConfirmationURL string
	// Replayed is set when the request matched an earlier checkout.
	Replayed bool
}

// Checkout turns the buyer's cart into a pending order with reserved stock
// and starts its payment. Once the order is stored it is never rolled back:
// a failed payment start is reported as *PaymentInitiationError carrying the
// order.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, request *CheckoutRequest) (*CheckoutResult, error) {
	flight := fmt.Sprintf("checkout:%d:%s", request.Buyer.ID, request.IdempotencyKey)
	v, err, shared := s.group.Do(flight, func() (any, error) {
		return s.checkout(ctx, request)
	})
	if shared {
		s.log.Debug("concurrent checkout collapsed", zap.Int64("buyer_id", request.Buyer.ID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*CheckoutResult), nil
}

func (s *CheckoutServiceImpl) checkout(ctx context.Context, request *CheckoutRequest) (*CheckoutResult, error) {
	buyer := request.Buyer

	release, err := s.acquire(ctx, fmt.Sprintf("checkout:%d", buyer.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	var key string
	if request.IdempotencyKey != "" {
		key = scopedKey(buyer.ID, "client", request.IdempotencyKey)
		if res, found, err := s.replay(ctx, buyer, key); found || err != nil {
			return res, err
		}
	}

	snapshot, err := s.getCartSnapshot(ctx, buyer.ID)
	if errors.Is(err, domain.ErrEmptyCart) && key == "" {
		// the cart went into an order whose payment never started
		if res, found, err := s.resumeUnpaid(ctx, buyer); found || err != nil {
			return res, err
		}
	}
	if err != nil {
		s.metrics.CheckoutOutcome("rejected")
		return nil, err
	}

	if key == "" {
		key = scopedKey(buyer.ID, "cart", snapshot.Fingerprint())
		if res, found, err := s.replay(ctx, buyer, key); found || err != nil {
			return res, err
		}
	}

	assembly, err := domain.AssembleOrder(snapshot, s.currency, s.now())
	if err != nil {
		s.metrics.CheckoutOutcome("rejected")
		return nil, err
	}
	assembly.Order.BuyerEmail = buyer.Email

	if err := s.reserveInventory(ctx, assembly, key); err != nil {
		if errors.Is(err, r.ErrDuplicateCheckout) {
			res, _, err := s.replay(ctx, buyer, key)
			return res, err
		}
		return nil, err
	}
	s.metrics.CheckoutOutcome("created")
	if err := s.carts.Delete(ctx, buyer.ID); err != nil {
		s.log.Warn("failed to invalidate cart cache", zap.Int64("buyer_id", buyer.ID), zap.Error(err))
	}
	s.notifyBuyer(assembly.Order)

	return s.startPayment(ctx, buyer, assembly.Order)
}

// replay returns the outcome of an earlier checkout stored under key. A
// pending order that never got a payment has its payment started again.
func (s *CheckoutServiceImpl) replay(ctx context.Context, buyer domain.Buyer, key string) (*CheckoutResult, bool, error) {
	orderID, err := s.repo.GetOrderIDByIdempotencyKey(ctx, key)
	if errors.Is(err, r.ErrIdempotencyKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to check idempotency: %w", err)
	}

	s.log.Info("duplicate checkout detected",
		zap.Int64("buyer_id", buyer.ID),
		zap.String("order_id", orderID))
	s.metrics.CheckoutOutcome("replayed")

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, true, err
	}
	if order.BuyerID != buyer.ID {
		return nil, true, domain.ErrOrderNotFound
	}

	res, err := s.resume(ctx, buyer, order)
	if res != nil {
		res.Replayed = true
	}
	return res, true, err
}

// resumeUnpaid picks up the buyer's latest order that is still waiting for
// its payment to be started.
func (s *CheckoutServiceImpl) resumeUnpaid(ctx context.Context, buyer domain.Buyer) (*CheckoutResult, bool, error) {
	order, err := s.repo.GetLatestUnpaidOrder(ctx, buyer.ID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up unpaid order: %w", err)
	}

	s.log.Info("resuming unpaid order",
		zap.Int64("buyer_id", buyer.ID),
		zap.String("order_id", order.ID))
	s.metrics.CheckoutOutcome("replayed")

	res, err := s.resume(ctx, buyer, order)
	if res != nil {
		res.Replayed = true
	}
	return res, true, err
}

// resume returns the order's existing payment, or starts one if the order is
// still pending without it.
func (s *CheckoutServiceImpl) resume(ctx context.Context, buyer domain.Buyer, order *domain.Order) (*CheckoutResult, error) {
	attempt, err := s.repo.GetPaymentAttempt(ctx, order.ID)
	if err == nil {
		return &CheckoutResult{Order: order, ConfirmationURL: attempt.ConfirmationURL}, nil
	}
	if !errors.Is(err, r.ErrPaymentNotFound) {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return &CheckoutResult{Order: order}, nil
	}
	return s.startPayment(ctx, buyer, order)
}

// acquire takes the cross-replica lock for key. If the lock store itself is
// down the checkout continues: the idempotency key still prevents a second
// order.
func (s *CheckoutServiceImpl) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Acquire(ctx, key)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		s.metrics.CheckoutOutcome("in_progress")
		return nil, domain.ErrCheckoutInProgress
	case err != nil:
		s.log.Warn("checkout lock unavailable", zap.String("lock", key), zap.Error(err))
		return func() {}, nil
	}

	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("failed to release checkout lock", zap.String("lock", key), zap.Error(err))
		}
	}, nil
}

func scopedKey(buyerID int64, kind, key string) string {
	return fmt.Sprintf("buyer:%d:%s:%s", buyerID, kind, key)
}

func (s *CheckoutServiceImpl) notifyBuyer(order *domain.Order) {
	if s.notifier == nil {
		return
	}
	if order.BuyerEmail == "" {
		s.log.Debug("buyer has no email, skipping notification", zap.String("order_id", order.ID))
		return
	}
	s.notifier.Notify(notify.ForOrder(order, order.BuyerEmail))
}
