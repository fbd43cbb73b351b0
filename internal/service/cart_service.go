package service

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/store-service/internal/cache"
	"github.com/fjod/go_cart/store-service/internal/domain"
	"go.uber.org/zap"
)

type CartRepository interface {
	GetCartSnapshot(ctx context.Context, buyerID int64) (*domain.CartSnapshot, error)
	AddCartItem(ctx context.Context, buyerID, productID int64, quantity int) (*domain.CartItem, error)
	UpdateCartItem(ctx context.Context, buyerID, productID int64, quantity int) error
	RemoveCartItem(ctx context.Context, buyerID, productID int64) error
	ClearCart(ctx context.Context, buyerID int64) error
}

type CartService interface {
	GetCart(ctx context.Context, buyerID int64) (*domain.Cart, error)
	AddItem(ctx context.Context, buyerID, productID int64, quantity int) (*domain.Cart, error)
	UpdateItem(ctx context.Context, buyerID, productID int64, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, buyerID, productID int64) (*domain.Cart, error)
	Clear(ctx context.Context, buyerID int64) error
}

type CartServiceImpl struct {
	repo  CartRepository
	cache cache.CartCache
	log   *zap.Logger
}

func NewCartService(repo CartRepository, c cache.CartCache, log *zap.Logger) *CartServiceImpl {
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CartServiceImpl{repo: repo, cache: c, log: log}
}

// GetCart reads through the cache. Cache failures fall back to the database.
func (s *CartServiceImpl) GetCart(ctx context.Context, buyerID int64) (*domain.Cart, error) {
	cart, err := s.cache.Get(ctx, buyerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("cart cache read failed", zap.Int64("buyer_id", buyerID), zap.Error(err))
	}

	snapshot, err := s.repo.GetCartSnapshot(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	cart = domain.NewCart(snapshot)

	if err := s.cache.Set(ctx, buyerID, cart); err != nil {
		s.log.Warn("cart cache write failed", zap.Int64("buyer_id", buyerID), zap.Error(err))
	}
	return cart, nil
}

func (s *CartServiceImpl) AddItem(ctx context.Context, buyerID, productID int64, quantity int) (*domain.Cart, error) {
	if _, err := s.repo.AddCartItem(ctx, buyerID, productID, quantity); err != nil {
		return nil, err
	}
	return s.refresh(ctx, buyerID)
}

func (s *CartServiceImpl) UpdateItem(ctx context.Context, buyerID, productID int64, quantity int) (*domain.Cart, error) {
	if err := s.repo.UpdateCartItem(ctx, buyerID, productID, quantity); err != nil {
		return nil, err
	}
	return s.refresh(ctx, buyerID)
}

func (s *CartServiceImpl) RemoveItem(ctx context.Context, buyerID, productID int64) (*domain.Cart, error) {
	if err := s.repo.RemoveCartItem(ctx, buyerID, productID); err != nil {
		return nil, err
	}
	return s.refresh(ctx, buyerID)
}

func (s *CartServiceImpl) Clear(ctx context.Context, buyerID int64) error {
	if err := s.repo.ClearCart(ctx, buyerID); err != nil {
		return err
	}
	s.invalidate(ctx, buyerID)
	return nil
}

func (s *CartServiceImpl) refresh(ctx context.Context, buyerID int64) (*domain.Cart, error) {
	s.invalidate(ctx, buyerID)
	return s.GetCart(ctx, buyerID)
}

func (s *CartServiceImpl) invalidate(ctx context.Context, buyerID int64) {
	if err := s.cache.Delete(ctx, buyerID); err != nil {
		s.log.Warn("cart cache invalidation failed", zap.Int64("buyer_id", buyerID), zap.Error(err))
	}
}
