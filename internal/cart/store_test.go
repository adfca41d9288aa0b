package cart_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/cart"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func intPtr(v int) *int { return &v }

func newStore() *cart.Store {
	return cart.NewStore(memory.NewCartRepository(), "ILS", nil)
}

func TestStore_AddMergesAndComputesTotals(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, _, err := store.Add(ctx, "s-1", domain.CartLine{ProductID: "p1", Name: "Mug", UnitPriceMinor: 2000, Quantity: 1})
	require.NoError(t, err)
	snap, adj, err := store.Add(ctx, "s-1", domain.CartLine{ProductID: "p1", Name: "Mug", UnitPriceMinor: 2000, Quantity: 1})
	require.NoError(t, err)
	require.False(t, adj.Clamped)

	require.Len(t, snap.Lines, 1)
	require.Equal(t, 2, snap.Lines[0].Quantity)
	require.Equal(t, "ILS", snap.Currency)

	amounts := snap.Amounts()
	require.Equal(t, int64(4000), amounts.SubtotalMinor)
	require.Equal(t, int64(400), amounts.TaxMinor)
	require.Equal(t, int64(4400), amounts.TotalMinor)
}

func TestStore_PreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	for _, id := range []string{"c", "a", "b"} {
		_, _, err := store.Add(ctx, "s-1", domain.CartLine{ProductID: id, Quantity: 1})
		require.NoError(t, err)
	}
	snap, err := store.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, []string{snap.Lines[0].ProductID, snap.Lines[1].ProductID, snap.Lines[2].ProductID})
}

func TestStore_ClampIsVisible(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	snap, adj, err := store.Add(ctx, "s-1", domain.CartLine{ProductID: "p1", Quantity: 5, StockLimit: intPtr(3)})
	require.NoError(t, err)
	require.True(t, adj.Clamped)
	require.Equal(t, 5, adj.Requested)
	require.Equal(t, 3, adj.Applied)
	require.Equal(t, 3, snap.Lines[0].Quantity)

	snap, adj, err = store.UpdateQuantity(ctx, "s-1", "p1", 10)
	require.NoError(t, err)
	require.True(t, adj.Clamped)
	require.Equal(t, 3, snap.Lines[0].Quantity)
}

func TestStore_ZeroStockRemovesLineVisibly(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	snap, adj, err := store.Add(ctx, "s-1", domain.CartLine{ProductID: "p1", Quantity: 1, StockLimit: intPtr(0)})
	require.NoError(t, err)
	require.True(t, adj.Clamped)
	require.True(t, adj.Removed)
	require.True(t, snap.IsEmpty())
}

func TestStore_UpdateRemoveAndErrors(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	_, _, err := store.UpdateQuantity(ctx, "s-1", "missing", 2)
	require.ErrorIs(t, err, domain.ErrCartLineNotFound)

	_, _, err = store.Add(ctx, "s-1", domain.CartLine{ProductID: "p1", Quantity: 0})
	require.ErrorIs(t, err, domain.ErrCartLineQtyInvalid)

	_, _, err = store.Add(ctx, "", domain.CartLine{ProductID: "p1", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrSessionRequired)

	_, _, err = store.Add(ctx, "s-1", domain.CartLine{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	snap, adj, err := store.UpdateQuantity(ctx, "s-1", "p1", 0)
	require.NoError(t, err)
	require.True(t, adj.Removed)
	require.True(t, snap.IsEmpty())
}

func TestStore_SubscribeReceivesEvents(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	var kinds []cart.EventKind
	unsubscribe := store.Subscribe(func(e cart.Event) {
		require.Equal(t, "s-1", e.CartID)
		kinds = append(kinds, e.Kind)
	})

	_, _, err := store.Add(ctx, "s-1", domain.CartLine{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, _, err = store.UpdateQuantity(ctx, "s-1", "p1", 2)
	require.NoError(t, err)
	_, err = store.Remove(ctx, "s-1", "p1")
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx, "s-1"))

	unsubscribe()
	unsubscribe()
	_, _, err = store.Add(ctx, "s-1", domain.CartLine{ProductID: "p2", Quantity: 1})
	require.NoError(t, err)

	require.Equal(t, []cart.EventKind{cart.EventLineAdded, cart.EventLineUpdated, cart.EventLineRemoved, cart.EventCleared}, kinds)
}

type failingRepo struct{ domain.CartRepository }

func (failingRepo) Load(context.Context, string) (domain.CartSnapshot, error) {
	return domain.CartSnapshot{}, errors.New("redis down")
}

func TestStore_RepositoryErrorPropagates(t *testing.T) {
	store := cart.NewStore(failingRepo{}, "ILS", nil)
	_, err := store.Snapshot(context.Background(), "s-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load cart")
}
