package domain

import (
	"context"
	"time"
)

// CartProvider нужен оркестратору от корзины: снимок при старте и очистка
// после подтверждённого заказа.
type CartProvider interface {
	Snapshot(ctx context.Context, cartID string) (CartSnapshot, error)
	Clear(ctx context.Context, cartID string) error
}

// AddressStore: внешнее хранилище адресной книги. Реализации обязаны сами
// поддерживать инвариант одного адреса по умолчанию.
type AddressStore interface {
	List(ctx context.Context, ownerID string) ([]ShippingAddress, error)
	// Create сохраняет адрес; при IsDefault снимает флаг с остальных в той же операции.
	Create(ctx context.Context, ownerID string, address ShippingAddress) (string, error)
	Update(ctx context.Context, ownerID, addressID string, patch AddressPatch) error
}

// Tokenizer обменивает ссылку на hosted fields шлюза на токен карты.
type Tokenizer interface {
	Tokenize(ctx context.Context, hostedFieldsRef string, customer Customer) (CardToken, error)
}

// RedirectGateway создаёт redirect-сессию для асинхронных способов оплаты.
type RedirectGateway interface {
	CreateRedirect(ctx context.Context, req RedirectRequest) (RedirectSession, error)
}

// ReturnVerifier подтверждает у шлюза успешный возврат: параметры callback приходят
// из браузера и могут быть подделаны.
type ReturnVerifier interface {
	VerifyReturn(ctx context.Context, sessionID string, params ReturnParams) error
}

// PaymentGateway объединяет оба семейства оплаты.
type PaymentGateway interface {
	Tokenizer
	RedirectGateway
}

// OrderService создаёт заказ. Повторный вызов с тем же ключом идемпотентности
// возвращает уже созданный заказ.
type OrderService interface {
	Create(ctx context.Context, payload OrderPayload) (string, error)
}

// PendingOrderLedger: одна ячейка на контекст браузера (сессию оформления).
type PendingOrderLedger interface {
	// Put перезаписывает существующую запись.
	Put(ctx context.Context, sessionID string, order PendingOrder) error
	// TakeIfPresent читает и удаляет запись; ошибки хранилища трактуются как отсутствие.
	TakeIfPresent(ctx context.Context, sessionID string) (PendingOrder, bool)
	// Discard удаляет запись без чтения.
	Discard(ctx context.Context, sessionID string) error
}

// LedgerJanitor удаляет брошенные записи ledger (вкладка закрыта на странице шлюза).
type LedgerJanitor interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount int
	// PendingAggregates: сколько сессий или заказов ждут доставки.
	PendingAggregates int
	OldestPendingAt   time.Time
}

// CheckoutStep задаёт константы шагов для метрик/логов.
type CheckoutStep string

const (
	CheckoutStepBegin     CheckoutStep = "begin"
	CheckoutStepShipping  CheckoutStep = "shipping"
	CheckoutStepPayment   CheckoutStep = "payment"
	CheckoutStepReconcile CheckoutStep = "reconcile"
)
