package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestCartSnapshotAmounts(t *testing.T) {
	cart := domain.CartSnapshot{
		Currency: "ILS",
		Lines: []domain.CartLine{
			{ProductID: "a", UnitPriceMinor: 1000, Quantity: 2},
			{ProductID: "b", UnitPriceMinor: 550, Quantity: 1},
		},
	}

	amounts := cart.Amounts()
	require.Equal(t, int64(2550), amounts.SubtotalMinor)
	require.Equal(t, int64(255), amounts.TaxMinor)
	require.Equal(t, int64(0), amounts.ShippingMinor)
	require.Equal(t, int64(2805), amounts.TotalMinor)
	require.Equal(t, "ILS", amounts.Currency)
	require.Equal(t, 3, cart.ItemCount())
	require.Equal(t, amounts.TotalMinor, cart.TotalMinor())
}

func TestTaxForRoundsHalfUp(t *testing.T) {
	cases := map[int64]int64{
		0:    0,
		5:    1, // 0.5 -> 1
		4:    0,
		15:   2, // 1.5 -> 2
		1234: 123,
		1235: 124,
	}
	for subtotal, want := range cases {
		require.Equalf(t, want, domain.TaxFor(subtotal), "subtotal %d", subtotal)
	}
}

func TestEmptyCartAmountsAreZero(t *testing.T) {
	var cart domain.CartSnapshot
	require.True(t, cart.IsEmpty())
	require.Equal(t, domain.Amounts{}, cart.Amounts())
}

func TestCartLineClamp(t *testing.T) {
	line := domain.CartLine{ProductID: "a", Quantity: 7, StockLimit: intPtr(3)}
	clamped, changed := line.Clamp()
	require.True(t, changed)
	require.Equal(t, 3, clamped.Quantity)

	unlimited := domain.CartLine{ProductID: "a", Quantity: 99}
	same, changed := unlimited.Clamp()
	require.False(t, changed)
	require.Equal(t, 99, same.Quantity)
}

func TestCartLineValidate(t *testing.T) {
	errs := domain.CartLine{Quantity: 0, UnitPriceMinor: -1, StockLimit: intPtr(-2)}.Validate()
	require.ElementsMatch(t, []error{
		domain.ErrCartLineProductRequired,
		domain.ErrCartLineQtyInvalid,
		domain.ErrCartLinePriceInvalid,
		domain.ErrCartLineStockInvalid,
	}, errs)
}

func TestCartCloneIsDeep(t *testing.T) {
	cart := domain.CartSnapshot{Lines: []domain.CartLine{{ProductID: "a", Quantity: 1, StockLimit: intPtr(5)}}}
	clone := cart.Clone()

	cart.Lines[0].Quantity = 4
	*cart.Lines[0].StockLimit = 1

	require.Equal(t, 1, clone.Lines[0].Quantity)
	require.Equal(t, 5, *clone.Lines[0].StockLimit)
	require.Equal(t, 0, clone.IndexOf("a"))
	require.Equal(t, -1, clone.IndexOf("z"))
}

func TestPendingOrderSnapshotsCart(t *testing.T) {
	cart := domain.CartSnapshot{
		CartID:   "s1",
		Currency: "ILS",
		Lines:    []domain.CartLine{{ProductID: "a", UnitPriceMinor: 1000, Quantity: 1}},
	}
	pending := domain.NewPendingOrder("s1", "u1", cart, domain.ShippingAddress{ID: "addr"}, domain.PaymentMethodBit, domain.Customer{}, fixedNow)

	cart.Lines[0].Quantity = 10

	require.Equal(t, 1, pending.Cart.Lines[0].Quantity)
	require.Equal(t, int64(1100), pending.Amounts.TotalMinor)
	require.Equal(t, domain.PaymentMethodBit, pending.PaymentMethod)
}
