package service

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/store-service/internal/domain"
	r "github.com/fjod/go_cart/store-service/internal/repository"
	"go.uber.org/zap"
)

// startPayment starts the order's payment under the order's payment lock, so
// a checkout replay and a retry never both reach the gateway.
func (s *CheckoutServiceImpl) startPayment(ctx context.Context, buyer domain.Buyer, order *domain.Order) (*CheckoutResult, error) {
	release, err := s.acquire(ctx, "payment:"+order.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	// the previous holder may have attached one
	attempt, err := s.repo.GetPaymentAttempt(ctx, order.ID)
	if err == nil {
		order.PaymentID = &attempt.PaymentID
		return &CheckoutResult{Order: order, ConfirmationURL: attempt.ConfirmationURL}, nil
	}
	if !errors.Is(err, r.ErrPaymentNotFound) {
		return nil, err
	}
	return s.initiatePayment(ctx, buyer, order)
}

// initiatePayment asks the gateway for a payment and records it. It runs
// after the order is committed; its failures never touch order or stock.
func (s *CheckoutServiceImpl) initiatePayment(ctx context.Context, buyer domain.Buyer, order *domain.Order) (*CheckoutResult, error) {
	attempt, err := s.requestPayment(ctx, buyer, order)
	if err != nil {
		s.metrics.CheckoutOutcome("payment_failed")
		return nil, &PaymentInitiationError{Order: order, Err: err}
	}

	// the remote payment exists now, so record it even if the client went away
	attempt, err = s.complete(context.WithoutCancel(ctx), order, attempt)
	if err != nil {
		s.metrics.CheckoutOutcome("payment_failed")
		return nil, &PaymentInitiationError{Order: order, Err: err}
	}

	return &CheckoutResult{Order: order, ConfirmationURL: attempt.ConfirmationURL}, nil
}

func (s *CheckoutServiceImpl) requestPayment(ctx context.Context, buyer domain.Buyer, order *domain.Order) (*domain.PaymentAttempt, error) {
	email := buyer.Email
	if email == "" {
		email = order.BuyerEmail
	}

	res, err := s.gateway.CreatePayment(ctx, domain.PaymentRequest{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		BuyerEmail:  email,
		Description: order.Description(),
	})
	if err != nil {
		fields := []zap.Field{
			zap.String("order_id", order.ID),
			zap.Int64("buyer_id", order.BuyerID),
			zap.String("step", "request_payment"),
			zap.Error(err),
		}
		if errors.Is(err, domain.ErrGatewayMisconfigured) {
			s.log.Error("payment gateway misconfigured, order left pending", fields...)
		} else {
			s.log.Warn("payment initiation failed, order left pending", fields...)
		}
		return nil, err
	}

	return &domain.PaymentAttempt{
		OrderID:         order.ID,
		PaymentID:       res.ID,
		Status:          res.Status,
		ConfirmationURL: res.ConfirmationURL,
		CreatedAt:       s.now(),
	}, nil
}
