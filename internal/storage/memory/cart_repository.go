package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// cartRepositoryInMemory хранит корзины в map по идентификатору сессии.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	carts map[string]domain.CartSnapshot
}

// NewCartRepository возвращает in-memory репозиторий корзин.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{carts: make(map[string]domain.CartSnapshot)}
}

// Load возвращает копию корзины или пустую корзину.
func (r *cartRepositoryInMemory) Load(_ context.Context, cartID string) (domain.CartSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return domain.CartSnapshot{CartID: cartID}, nil
	}
	return cart.Clone(), nil
}

// Save перезаписывает корзину копией.
func (r *cartRepositoryInMemory) Save(_ context.Context, cart domain.CartSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[cart.CartID] = cart.Clone()
	return nil
}

// Delete удаляет корзину; отсутствие записи не ошибка.
func (r *cartRepositoryInMemory) Delete(_ context.Context, cartID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts, cartID)
	return nil
}
