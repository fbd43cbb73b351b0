package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/store-service/internal/domain"
	r "github.com/fjod/go_cart/store-service/internal/repository"
	"go.uber.org/zap"
)

type OrderStatusView struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Message string             `json:"message"`
}

// ConfirmPayment moves a pending order to a terminal status. Repeating the
// order's current terminal status is a no-op; contradicting it fails with
// domain.ErrInconsistentStatusTransition and changes nothing.
func (s *CheckoutServiceImpl) ConfirmPayment(ctx context.Context, orderID string, to domain.OrderStatus) (bool, error) {
	from, changed, err := s.repo.UpdateOrderStatus(ctx, orderID, to)
	switch {
	case errors.Is(err, domain.ErrInconsistentStatusTransition):
		s.metrics.Transition(to.String(), "inconsistent")
		s.log.Warn("rejected inconsistent status transition",
			zap.String("order_id", orderID),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return false, err
	case err != nil:
		return false, err
	case !changed:
		s.metrics.Transition(to.String(), "noop")
		return false, nil
	}

	s.metrics.Transition(to.String(), "applied")
	s.log.Info("order status changed",
		zap.String("order_id", orderID),
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		s.log.Warn("failed to load order for notification", zap.String("order_id", orderID), zap.Error(err))
		return true, nil
	}
	s.notifyBuyer(order)
	return true, nil
}

// SyncPayment reads the payment's state from the gateway and applies it to
// the order it belongs to. The caller's claim about the payment is never
// trusted on its own.
func (s *CheckoutServiceImpl) SyncPayment(ctx context.Context, paymentID string) error {
	orderID, err := s.repo.GetOrderIDByPaymentID(ctx, paymentID)
	if errors.Is(err, r.ErrPaymentNotFound) {
		return fmt.Errorf("payment %s: %w", paymentID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return err
	}

	res, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	return s.HandleGatewayResult(ctx, orderID, res)
}

// HandleGatewayResult applies a remote payment state to the order. Payments
// still in flight leave the order untouched.
func (s *CheckoutServiceImpl) HandleGatewayResult(ctx context.Context, orderID string, res *domain.PaymentResult) error {
	to, ok := res.TargetStatus()
	if !ok {
		s.log.Debug("payment still in flight",
			zap.String("order_id", orderID),
			zap.String("payment_id", res.ID),
			zap.String("remote_status", res.Status))
		return nil
	}
	_, err := s.ConfirmPayment(ctx, orderID, to)
	return err
}

func (s *CheckoutServiceImpl) GetOrderStatus(ctx context.Context, buyerID int64, orderID string) (*OrderStatusView, error) {
	order, err := s.GetOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderStatusView{
		OrderID: order.ID,
		Status:  order.Status,
		Message: domain.StatusMessage(order.ID, order.Status),
	}, nil
}
