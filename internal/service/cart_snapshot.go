package service

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/store-service/internal/domain"
)

func (s *CheckoutServiceImpl) getCartSnapshot(ctx context.Context, buyerID int64) (*domain.CartSnapshot, error) {
	snapshot, err := s.repo.GetCartSnapshot(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if len(snapshot.Lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	return snapshot, nil
}
