package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func samplePending() domain.PendingOrder {
	limit := 3
	cart := domain.CartSnapshot{
		CartID:   "s-1",
		Currency: "ILS",
		Lines: []domain.CartLine{
			{ProductID: "p1", Name: "Mug", UnitPriceMinor: 2000, Quantity: 2, StockLimit: &limit},
		},
	}
	return domain.NewPendingOrder("s-1", "owner-1", cart,
		domain.ShippingAddress{ID: "addr-1", Name: "Dana", City: "Haifa"},
		domain.PaymentMethodBit,
		domain.Customer{Name: "Dana", Email: "dana@example.com", Phone: "050"},
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestLedger_TakeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(time.Hour, nil)
	order := samplePending()

	if err := ledger.Put(ctx, "s-1", order); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, ok := ledger.TakeIfPresent(ctx, "s-1")
	if !ok {
		t.Fatal("expected pending order on first take")
	}

	want, _ := json.Marshal(order)
	have, _ := json.Marshal(got)
	if string(want) != string(have) {
		t.Fatalf("round trip mismatch:\nwant %s\nhave %s", want, have)
	}

	if _, ok := ledger.TakeIfPresent(ctx, "s-1"); ok {
		t.Fatal("second take must observe absence")
	}
}

func TestLedger_PutOverwritesSingleSlot(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(0, nil)

	first := samplePending()
	second := samplePending()
	second.PaymentMethod = domain.PaymentMethodPayPal

	_ = ledger.Put(ctx, "s-1", first)
	_ = ledger.Put(ctx, "s-1", second)

	got, ok := ledger.TakeIfPresent(ctx, "s-1")
	if !ok || got.PaymentMethod != domain.PaymentMethodPayPal {
		t.Fatalf("expected latest write to win, got %+v ok=%v", got.PaymentMethod, ok)
	}
	if ledger.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d", ledger.Len())
	}
}

func TestLedger_ExpiryAndDiscard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewLedger(time.Minute, nil)
	ledger.now = func() time.Time { return now }

	_ = ledger.Put(ctx, "old", samplePending())
	_ = ledger.Put(ctx, "drop", samplePending())
	if err := ledger.Discard(ctx, "drop"); err != nil {
		t.Fatalf("discard failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	_ = ledger.Put(ctx, "fresh", samplePending())

	deleted, err := ledger.DeleteExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 expired entry, got %d", deleted)
	}
	if _, ok := ledger.TakeIfPresent(ctx, "old"); ok {
		t.Fatal("expired entry must be absent")
	}
	if _, ok := ledger.TakeIfPresent(ctx, "fresh"); !ok {
		t.Fatal("fresh entry must be present")
	}
}

func TestLedger_CorruptedEntryIsAbsent(t *testing.T) {
	ledger := NewLedger(0, nil)
	ledger.entries["s-1"] = ledgerEntry{payload: []byte("{not json")}

	if _, ok := ledger.TakeIfPresent(context.Background(), "s-1"); ok {
		t.Fatal("corrupted entry must be reported as absent")
	}
}
