package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultCartTTL = 7 * 24 * time.Hour

// CartRepository сохраняет корзины в Redis под ключом cart:<session>.
type CartRepository struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

var _ domain.CartRepository = (*CartRepository)(nil)

// NewCartRepository создаёт репозиторий корзин; ttl <= 0: семь дней.
func NewCartRepository(client goredis.UniversalClient, ttl time.Duration) *CartRepository {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &CartRepository{client: client, ttl: ttl}
}

// Load возвращает пустую корзину, если ключа нет.
func (r *CartRepository) Load(ctx context.Context, cartID string) (domain.CartSnapshot, error) {
	data, err := r.client.Get(ctx, cartKey(cartID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.CartSnapshot{CartID: cartID}, nil
	}
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.CartSnapshot
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return cart, nil
}

// Save перезаписывает корзину и продлевает TTL.
func (r *CartRepository) Save(ctx context.Context, cart domain.CartSnapshot) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, cartKey(cart.CartID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete удаляет корзину.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if err := r.client.Del(ctx, cartKey(cartID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartKey(cartID string) string {
	return fmt.Sprintf("cart:%s", cartID)
}
