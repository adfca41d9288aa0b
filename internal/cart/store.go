package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// EventKind: тип изменения корзины.
type EventKind string

const (
	EventLineAdded   EventKind = "line_added"
	EventLineUpdated EventKind = "line_updated"
	EventLineRemoved EventKind = "line_removed"
	EventCleared     EventKind = "cleared"
)

// Event: уведомление подписчикам об изменении корзины.
type Event struct {
	CartID    string
	Kind      EventKind
	ProductID string
	Snapshot  domain.CartSnapshot
}

// Adjustment сообщает вызывающему, что количество было ограничено остатком.
type Adjustment struct {
	ProductID string
	Requested int
	Applied   int
	Clamped   bool
	// Removed: остаток равен нулю, и позиция убрана из корзины.
	Removed bool
}

// Store: явный владелец корзин. Все изменения идут через его методы и сразу
// сохраняются в репозиторий.
type Store struct {
	repo     domain.CartRepository
	currency string
	logger   *log.Entry
	now      func() time.Time

	mu sync.Mutex

	subsMu  sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

var _ domain.CartProvider = (*Store)(nil)

// NewStore создаёт хранилище корзин поверх репозитория.
func NewStore(repo domain.CartRepository, currency string, logger *log.Entry) *Store {
	if logger == nil {
		logger = log.New().WithField("component", "cart-store")
	}
	return &Store{
		repo:     repo,
		currency: currency,
		logger:   logger,
		now:      time.Now,
		subs:     make(map[int]func(Event)),
	}
}

// Subscribe регистрирует обработчик изменений. Возвращает функцию отписки.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// Snapshot возвращает копию текущей корзины.
func (s *Store) Snapshot(ctx context.Context, cartID string) (domain.CartSnapshot, error) {
	if cartID == "" {
		return domain.CartSnapshot{}, domain.ErrSessionRequired
	}
	cart, err := s.repo.Load(ctx, cartID)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("load cart: %w", err)
	}
	return s.normalize(cartID, cart).Clone(), nil
}

// Add добавляет позицию или увеличивает количество существующей.
func (s *Store) Add(ctx context.Context, cartID string, line domain.CartLine) (domain.CartSnapshot, Adjustment, error) {
	if cartID == "" {
		return domain.CartSnapshot{}, Adjustment{}, domain.ErrSessionRequired
	}
	if errs := line.Validate(); len(errs) > 0 {
		return domain.CartSnapshot{}, Adjustment{}, errors.Join(errs...)
	}

	s.mu.Lock()
	cart, err := s.load(ctx, cartID)
	if err != nil {
		s.mu.Unlock()
		return domain.CartSnapshot{}, Adjustment{}, err
	}

	kind := EventLineAdded
	if idx := cart.IndexOf(line.ProductID); idx >= 0 {
		existing := cart.Lines[idx]
		line.Quantity += existing.Quantity
		if line.StockLimit == nil {
			line.StockLimit = existing.StockLimit
		}
		cart.Lines[idx] = line
		kind = EventLineUpdated
	} else {
		cart.Lines = append(cart.Lines, line)
	}

	adj := applyClamp(&cart, line.ProductID, line.Quantity)
	if adj.Removed {
		kind = EventLineRemoved
	}
	snapshot, err := s.save(ctx, cart)
	s.mu.Unlock()
	if err != nil {
		return domain.CartSnapshot{}, Adjustment{}, err
	}

	s.logAdjustment(cartID, adj)
	s.notify(Event{CartID: cartID, Kind: kind, ProductID: line.ProductID, Snapshot: snapshot})
	return snapshot.Clone(), adj, nil
}

// UpdateQuantity выставляет количество позиции; значение меньше единицы удаляет её.
func (s *Store) UpdateQuantity(ctx context.Context, cartID, productID string, quantity int) (domain.CartSnapshot, Adjustment, error) {
	if cartID == "" {
		return domain.CartSnapshot{}, Adjustment{}, domain.ErrSessionRequired
	}
	if quantity < 1 {
		snapshot, err := s.Remove(ctx, cartID, productID)
		return snapshot, Adjustment{ProductID: productID, Requested: quantity, Removed: true}, err
	}

	s.mu.Lock()
	cart, err := s.load(ctx, cartID)
	if err != nil {
		s.mu.Unlock()
		return domain.CartSnapshot{}, Adjustment{}, err
	}
	idx := cart.IndexOf(productID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.CartSnapshot{}, Adjustment{}, domain.ErrCartLineNotFound
	}
	cart.Lines[idx].Quantity = quantity

	adj := applyClamp(&cart, productID, quantity)
	kind := EventLineUpdated
	if adj.Removed {
		kind = EventLineRemoved
	}
	snapshot, err := s.save(ctx, cart)
	s.mu.Unlock()
	if err != nil {
		return domain.CartSnapshot{}, Adjustment{}, err
	}

	s.logAdjustment(cartID, adj)
	s.notify(Event{CartID: cartID, Kind: kind, ProductID: productID, Snapshot: snapshot})
	return snapshot.Clone(), adj, nil
}

// Remove удаляет позицию из корзины.
func (s *Store) Remove(ctx context.Context, cartID, productID string) (domain.CartSnapshot, error) {
	if cartID == "" {
		return domain.CartSnapshot{}, domain.ErrSessionRequired
	}

	s.mu.Lock()
	cart, err := s.load(ctx, cartID)
	if err != nil {
		s.mu.Unlock()
		return domain.CartSnapshot{}, err
	}
	idx := cart.IndexOf(productID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.CartSnapshot{}, domain.ErrCartLineNotFound
	}
	cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
	snapshot, err := s.save(ctx, cart)
	s.mu.Unlock()
	if err != nil {
		return domain.CartSnapshot{}, err
	}

	s.notify(Event{CartID: cartID, Kind: EventLineRemoved, ProductID: productID, Snapshot: snapshot})
	return snapshot.Clone(), nil
}

// Clear удаляет корзину целиком. Вызывается после подтверждённого заказа.
func (s *Store) Clear(ctx context.Context, cartID string) error {
	if cartID == "" {
		return domain.ErrSessionRequired
	}

	s.mu.Lock()
	err := s.repo.Delete(ctx, cartID)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.logger.WithField("session_id", cartID).Info("cart cleared")
	s.notify(Event{CartID: cartID, Kind: EventCleared, Snapshot: s.normalize(cartID, domain.CartSnapshot{})})
	return nil
}

func (s *Store) load(ctx context.Context, cartID string) (domain.CartSnapshot, error) {
	cart, err := s.repo.Load(ctx, cartID)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("load cart: %w", err)
	}
	return s.normalize(cartID, cart).Clone(), nil
}

func (s *Store) save(ctx context.Context, cart domain.CartSnapshot) (domain.CartSnapshot, error) {
	cart.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, cart); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

func (s *Store) normalize(cartID string, cart domain.CartSnapshot) domain.CartSnapshot {
	cart.CartID = cartID
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	return cart
}

func (s *Store) notify(event Event) {
	s.subsMu.RLock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

func (s *Store) logAdjustment(cartID string, adj Adjustment) {
	if !adj.Clamped {
		return
	}
	s.logger.WithFields(log.Fields{
		"session_id": cartID,
		"product_id": adj.ProductID,
		"requested":  adj.Requested,
		"applied":    adj.Applied,
		"removed":    adj.Removed,
	}).Info("cart quantity clamped to stock")
}

// applyClamp ограничивает количество позиции остатком; при нулевом остатке убирает её.
func applyClamp(cart *domain.CartSnapshot, productID string, requested int) Adjustment {
	adj := Adjustment{ProductID: productID, Requested: requested, Applied: requested}
	idx := cart.IndexOf(productID)
	if idx < 0 {
		return adj
	}

	line, clamped := cart.Lines[idx].Clamp()
	if !clamped {
		return adj
	}
	adj.Clamped = true
	adj.Applied = line.Quantity
	if line.Quantity == 0 {
		adj.Removed = true
		cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
		return adj
	}
	cart.Lines[idx] = line
	return adj
}
