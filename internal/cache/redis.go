package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// NewRedisCache keeps entries briefly: product names and prices in the
// cached view change without touching the cart.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 2 * time.Minute,
		jitter:  30 * time.Second,
	}
}

type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  time.Duration
}

func (r RedisCache) Get(ctx context.Context, buyerID int64) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(buyerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}
	return &cart, nil
}

func (r RedisCache) Set(ctx context.Context, buyerID int64, cart *domain.Cart) error {
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(r.jitter)+1))
	if err := r.client.Set(ctx, cacheKey(buyerID), jsonCart, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, buyerID int64) error {
	if err := r.client.Del(ctx, cacheKey(buyerID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(buyerID int64) string {
	return fmt.Sprintf("cart:%d", buyerID)
}
