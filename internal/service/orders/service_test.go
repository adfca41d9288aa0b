package orders_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func pendingOrder() domain.PendingOrder {
	cart := domain.CartSnapshot{
		CartID:   "sid-1",
		Currency: "ILS",
		Lines:    []domain.CartLine{{ProductID: "p1", Name: "Mug", UnitPriceMinor: 2000, Quantity: 2}},
	}
	return domain.PendingOrder{
		SessionID:     "sid-1",
		OwnerID:       "u-1",
		Cart:          cart,
		PaymentMethod: domain.PaymentMethodBit,
		Amounts:       cart.Amounts(),
		Customer:      domain.Customer{Name: "Dana", Email: "dana@example.com"},
	}
}

func TestCreate_DeduplicatesByTransactionReference(t *testing.T) {
	repo := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	svc := orders.NewService(repo, outbox, nil)
	ctx := context.Background()

	payload := domain.OrderPayload{Pending: pendingOrder(), TransactionReference: "REF-1"}
	first, err := svc.Create(ctx, payload)
	require.NoError(t, err)
	second, err := svc.Create(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	order, err := repo.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPaid, order.Status)
	assert.Equal(t, int64(4400), order.Amounts.TotalMinor)
	assert.Equal(t, "txn:REF-1", order.IdempotencyKey)

	pending := outbox.AllPending()
	require.Len(t, pending, 1, "duplicate create must not emit a second event")
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(pending[0].Payload, &body))
	assert.Equal(t, "REF-1", body["transaction_ref"])
}

func TestCreate_ConcurrentSameReferenceCreatesOnce(t *testing.T) {
	repo := memory.NewOrderRepository()
	svc := orders.NewService(repo, nil, nil)
	payload := domain.OrderPayload{Pending: pendingOrder(), TransactionReference: "REF-2"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.Create(context.Background(), payload)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	list, err := repo.ListByOwner(context.Background(), "u-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreate_CardPayment(t *testing.T) {
	repo := memory.NewOrderRepository()
	svc := orders.NewService(repo, nil, nil)
	pending := pendingOrder()
	pending.PaymentMethod = domain.PaymentMethodCreditCard

	id, err := svc.Create(context.Background(), domain.OrderPayload{
		Pending:   pending,
		Card:      &domain.CardToken{Token: "tok", Brand: "visa", Last4: "4242"},
		AttemptID: "attempt-1",
	})
	require.NoError(t, err)

	order, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementAuthorized, order.Status)
	assert.Equal(t, "4242", order.CardLast4)
	assert.Equal(t, "card:attempt-1", order.IdempotencyKey)
}

func TestCreate_Rejections(t *testing.T) {
	svc := orders.NewService(memory.NewOrderRepository(), nil, nil)

	_, err := svc.Create(context.Background(), domain.OrderPayload{Pending: pendingOrder()})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	empty := pendingOrder()
	empty.Cart.Lines = nil
	_, err = svc.Create(context.Background(), domain.OrderPayload{Pending: empty, TransactionReference: "REF-3"})
	require.ErrorIs(t, err, domain.ErrItemsRequired)

	_, err = svc.ListByOwner(context.Background(), "", 10)
	require.ErrorIs(t, err, domain.ErrOwnerRequired)
}
