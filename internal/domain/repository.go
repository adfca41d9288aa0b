package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderDuplicate, если ключ идемпотентности занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByIdempotencyKey ищет заказ по ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	// ListByOwner возвращает заказы владельца, новые первыми.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Order, error)
}

// CartRepository хранит корзины между запросами; корзина сохраняется после каждой мутации.
type CartRepository interface {
	// Load возвращает пустую корзину, если записи нет.
	Load(ctx context.Context, cartID string) (CartSnapshot, error)
	Save(ctx context.Context, cart CartSnapshot) error
	Delete(ctx context.Context, cartID string) error
}

// IdempotencyRepository хранит ответы на запросы с Idempotency-Key.
type IdempotencyRepository interface {
	// CreateProcessing занимает ключ. Для занятого ключа возвращает существующую запись и
	// ErrIdempotencyKeyAlreadyExists либо ErrIdempotencyHashMismatch.
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// DeleteExpired удаляет записи с ttl_at <= before; limit <= 0 снимает ограничение.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository хранит историю переходов сессий оформления.
type TimelineRepository interface {
	Append(ctx context.Context, events ...TimelineEvent) error
	// List возвращает события сессии в хронологическом порядке.
	List(ctx context.Context, sessionID string) ([]TimelineEvent, error)
}
