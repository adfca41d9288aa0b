package memory_test

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestCartRepository_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCartRepository()

	empty, err := repo.Load(ctx, "s-1")
	if err != nil || !empty.IsEmpty() || empty.CartID != "s-1" {
		t.Fatalf("expected empty cart, got %+v err=%v", empty, err)
	}

	cart := domain.CartSnapshot{CartID: "s-1", Lines: []domain.CartLine{{ProductID: "p", Quantity: 1}}}
	if err := repo.Save(ctx, cart); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	cart.Lines[0].Quantity = 9

	loaded, _ := repo.Load(ctx, "s-1")
	if loaded.Lines[0].Quantity != 1 {
		t.Fatalf("repository must store a copy, got quantity %d", loaded.Lines[0].Quantity)
	}

	if err := repo.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	loaded, _ = repo.Load(ctx, "s-1")
	if !loaded.IsEmpty() {
		t.Fatal("expected empty cart after delete")
	}
}
