package service

import (
	"context"

	"github.com/fjod/go_cart/store-service/internal/domain"
)

const maxPageSize = 100

// GetOrder returns the buyer's order. Orders of other buyers are reported as
// not found.
func (s *CheckoutServiceImpl) GetOrder(ctx context.Context, buyerID int64, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *CheckoutServiceImpl) ListOrders(ctx context.Context, buyerID int64, page, pageSize int) (*domain.OrderPage, error) {
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return nil, ErrInvalidPagination
	}

	orders, total, err := s.repo.ListOrdersByBuyer(ctx, buyerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &domain.OrderPage{
		Items:    orders,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// RetryPayment starts payment for the buyer's pending order that has none.
// An order that already has a payment gets it back unchanged.
func (s *CheckoutServiceImpl) RetryPayment(ctx context.Context, buyer domain.Buyer, orderID string) (*CheckoutResult, error) {
	v, err, _ := s.group.Do("retry:"+orderID, func() (any, error) {
		order, err := s.GetOrder(ctx, buyer.ID, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusPending {
			return nil, domain.ErrOrderNotPayable
		}
		return s.resume(ctx, buyer, order)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CheckoutResult), nil
}
