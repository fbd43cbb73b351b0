package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/store-service/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, buyerID int64) (*domain.Cart, error)
	Set(ctx context.Context, buyerID int64, cart *domain.Cart) error
	Delete(ctx context.Context, buyerID int64) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop never hits. Used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, int64) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (Noop) Set(context.Context, int64, *domain.Cart) error { return nil }
func (Noop) Delete(context.Context, int64) error { return nil }
