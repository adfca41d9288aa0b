// Package orders создаёт заказ ровно один раз на ключ идемпотентности
// и ставит событие OrderCreated в transactional outbox.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Service реализует domain.OrderService поверх OrderRepository.
type Service struct {
	repo   domain.OrderRepository
	outbox domain.OutboxRepository
	logger *log.Entry
	now    func() time.Time
}

var _ domain.OrderService = (*Service)(nil)

// NewService создаёт Order Service. outbox может быть nil: тогда события не пишутся.
func NewService(repo domain.OrderRepository, outbox domain.OutboxRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &Service{repo: repo, outbox: outbox, logger: logger, now: time.Now}
}

// Create создаёт заказ или возвращает id уже созданного с тем же ключом идемпотентности.
func (s *Service) Create(ctx context.Context, payload domain.OrderPayload) (string, error) {
	key := payload.IdempotencyKey()
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}

	if existing, err := s.repo.GetByIdempotencyKey(ctx, key); err == nil {
		s.logger.WithFields(log.Fields{"order_id": existing.ID, "session_id": existing.SessionID}).Info("order already exists for idempotency key")
		return existing.ID, nil
	} else if !errors.Is(err, domain.ErrOrderNotFound) {
		return "", fmt.Errorf("lookup order by idempotency key: %w", err)
	}

	order := s.buildOrder(key, payload)
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return "", errors.Join(errs...)
	}

	if err := s.repo.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrOrderDuplicate) {
			// Параллельный вызов с тем же ключом успел раньше.
			existing, getErr := s.repo.GetByIdempotencyKey(ctx, key)
			if getErr != nil {
				return "", fmt.Errorf("load concurrently created order: %w", getErr)
			}
			return existing.ID, nil
		}
		return "", fmt.Errorf("create order: %w", err)
	}

	s.emitCreated(order)
	s.logger.WithFields(log.Fields{
		"order_id":        order.ID,
		"session_id":      order.SessionID,
		"transaction_ref": order.TransactionReference,
		"status":          order.Status,
	}).Info("order created")
	return order.ID, nil
}

// Get возвращает заказ по id.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

// ListByOwner возвращает историю заказов владельца.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	if ownerID == "" {
		return nil, domain.ErrOwnerRequired
	}
	return s.repo.ListByOwner(ctx, ownerID, limit)
}

func (s *Service) buildOrder(key string, payload domain.OrderPayload) domain.Order {
	pending := payload.Pending
	items := make([]domain.OrderItem, 0, len(pending.Cart.Lines))
	for _, line := range pending.Cart.Lines {
		items = append(items, domain.OrderItem{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
		})
	}

	order := domain.Order{
		ID:                   uuid.NewString(),
		SessionID:            pending.SessionID,
		OwnerID:              pending.OwnerID,
		IdempotencyKey:       key,
		TransactionReference: payload.TransactionReference,
		PaymentMethod:        pending.PaymentMethod,
		Status:               domain.SettlementPaid,
		Customer:             pending.Customer,
		ShippingAddress:      pending.ShippingAddress,
		Items:                items,
		Amounts:              pending.Cart.Amounts(),
		CreatedAt:            s.now().UTC(),
	}
	if payload.Card != nil {
		order.Status = domain.SettlementAuthorized
		order.CardBrand = payload.Card.Brand
		order.CardLast4 = payload.Card.Last4
	}
	return order
}

func (s *Service) emitCreated(order domain.Order) {
	if s.outbox == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"order_id":        order.ID,
		"session_id":      order.SessionID,
		"owner_id":        order.OwnerID,
		"status":          order.Status,
		"payment_method":  order.PaymentMethod,
		"transaction_ref": order.TransactionReference,
		"total_minor":     order.Amounts.TotalMinor,
		"currency":        order.Amounts.Currency,
		"ts":              order.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     domain.EventOrderCreated,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
	}
}
