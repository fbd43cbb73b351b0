package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/store-service/internal/domain"
	r "github.com/fjod/go_cart/store-service/internal/repository"
	"go.uber.org/zap"
)

func (s *CheckoutServiceImpl) reserveInventory(ctx context.Context, assembly *domain.Assembly, idempotencyKey string) error {
	err := s.repo.ReserveAndCreateOrder(ctx, assembly, idempotencyKey)
	if err == nil {
		s.log.Info("order created",
			zap.String("order_id", assembly.Order.ID),
			zap.Int64("buyer_id", assembly.Order.BuyerID),
			zap.String("total_amount", assembly.Order.TotalAmount.StringFixed(2)))
		return nil
	}

	if errors.Is(err, r.ErrCartChanged) {
		s.log.Info("cart changed while checking out",
			zap.Int64("buyer_id", assembly.Order.BuyerID),
			zap.String("step", "reserve_inventory"))
		s.metrics.CheckoutOutcome("in_progress")
		return fmt.Errorf("%w: %v", domain.ErrCheckoutInProgress, err)
	}

	if domain.IsClientError(err) {
		// stock moved between the snapshot and the commit
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			s.log.Info("lost stock race at reservation",
				zap.Int64("buyer_id", assembly.Order.BuyerID),
				zap.Int64("product_id", stockErr.ProductID),
				zap.Int("requested", stockErr.Requested),
				zap.Int("available", stockErr.Available))
		}
		s.metrics.CheckoutOutcome("rejected")
	}
	return err
}
