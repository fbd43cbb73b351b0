package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/store-service/internal/domain"
	r "github.com/fjod/go_cart/store-service/internal/repository"
	"go.uber.org/zap"
)

// complete attaches the payment to the order. If another request attached a
// payment first, that one wins and is returned instead.
func (s *CheckoutServiceImpl) complete(ctx context.Context, order *domain.Order, attempt *domain.PaymentAttempt) (*domain.PaymentAttempt, error) {
	err := s.repo.AttachPayment(ctx, attempt)
	if errors.Is(err, r.ErrPaymentAlreadyAttached) {
		s.log.Warn("order already has a payment, discarding the new one",
			zap.String("order_id", order.ID),
			zap.String("payment_id", attempt.PaymentID))
		existing, err := s.repo.GetPaymentAttempt(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing payment: %w", err)
		}
		attempt = existing
	} else if err != nil {
		s.log.Error("remote payment created but not recorded",
			zap.String("order_id", order.ID),
			zap.String("payment_id", attempt.PaymentID),
			zap.String("step", "attach_payment"),
			zap.Error(err))
		return nil, err
	}

	order.PaymentID = &attempt.PaymentID
	s.log.Info("payment initiated",
		zap.String("order_id", order.ID),
		zap.String("payment_id", attempt.PaymentID))
	return attempt, nil
}
