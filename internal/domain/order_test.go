package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	return domain.Order{
		ID:             "order-1",
		IdempotencyKey: "txn:T1",
		PaymentMethod:  domain.PaymentMethodBit,
		Status:         domain.SettlementPaid,
		Items: []domain.OrderItem{
			{ProductID: "p1", Name: "Mug", Quantity: 5, UnitPriceMinor: 100},
		},
		Amounts: domain.Amounts{
			SubtotalMinor: 500,
			TaxMinor:      50,
			TotalMinor:    550,
			Currency:      "ILS",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no idempotency key",
			mut:  func(o *domain.Order) { o.IdempotencyKey = "" },
			want: domain.ErrIdempotencyKeyRequired,
		},
		{
			name: "no currency",
			mut:  func(o *domain.Order) { o.Amounts.Currency = "" },
			want: domain.ErrCurrencyRequired,
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
				o.Amounts = domain.Amounts{Currency: "ILS"}
			},
			want: domain.ErrItemsRequired,
		},
		{
			name: "subtotal mismatch",
			mut:  func(o *domain.Order) { o.Amounts.SubtotalMinor = 400 },
			want: domain.ErrAmountMismatch,
		},
		{
			name: "total mismatch",
			mut:  func(o *domain.Order) { o.Amounts.TotalMinor = 500 },
			want: domain.ErrAmountMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v in %v", tc.want, errs)
			}
		})
	}
}

func TestOrderPayloadIdempotencyKey(t *testing.T) {
	if key := (domain.OrderPayload{TransactionReference: "T9", AttemptID: "a"}).IdempotencyKey(); key != "txn:T9" {
		t.Fatalf("expected transaction reference key, got %q", key)
	}
	if key := (domain.OrderPayload{AttemptID: "a1"}).IdempotencyKey(); key != "card:a1" {
		t.Fatalf("expected card attempt key, got %q", key)
	}
	if key := (domain.OrderPayload{}).IdempotencyKey(); key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}
