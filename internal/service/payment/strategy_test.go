package payment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/mock"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type countingOrders struct {
	domain.OrderService
	calls    int
	payloads []domain.OrderPayload
	err      error
}

func (c *countingOrders) Create(ctx context.Context, payload domain.OrderPayload) (string, error) {
	c.calls++
	c.payloads = append(c.payloads, payload)
	if c.err != nil {
		return "", c.err
	}
	return c.OrderService.Create(ctx, payload)
}

type fixture struct {
	gateway  *mock.Gateway
	orders   *countingOrders
	ledger   *memory.Ledger
	strategy *payment.Strategy
}

func newFixture() fixture {
	gw := mock.NewGateway()
	svc := &countingOrders{OrderService: orders.NewService(memory.NewOrderRepository(), nil, nil)}
	ledger := memory.NewLedger(0, nil)
	strategy := payment.NewStrategy(gw, gw, svc, ledger, payment.Config{CallbackURL: "https://shop.example/v1/payments/return"}, nil, nil)
	return fixture{gateway: gw, orders: svc, ledger: ledger, strategy: strategy}
}

func draft() payment.Draft {
	return payment.Draft{
		SessionID: "sid-1",
		OwnerID:   "u-1",
		Cart: domain.CartSnapshot{
			CartID:   "sid-1",
			Currency: "ILS",
			Lines:    []domain.CartLine{{ProductID: "p1", Name: "Mug", UnitPriceMinor: 2000, Quantity: 2}},
		},
		Address:  domain.ShippingAddress{Name: "Dana", AddressLine1: "1 Herzl", City: "Tel Aviv", State: "TA", PostalCode: "1", Country: "IL"},
		Customer: domain.Customer{Name: "Dana", Email: "dana@example.com", Phone: "050"},
	}
}

func TestInitiate_RedirectWritesLedgerBeforeLeaving(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.strategy.Initiate(ctx, domain.RedirectSelection(domain.PaymentMethodBit), draft())
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeRedirecting, out.Kind)
	assert.NotEmpty(t, out.RedirectURL)
	assert.Zero(t, f.orders.calls, "no order before the gateway returns")

	req := f.gateway.LastRedirect
	assert.Equal(t, int64(4400), req.AmountMinor)
	assert.Equal(t, "ILS", req.Currency)
	assert.Equal(t, domain.PaymentMethodBit, req.Method)
	assert.Equal(t, "https://shop.example/v1/payments/return?checkout_session=sid-1", req.CallbackURL)
	assert.Equal(t, "dana@example.com", req.Customer.Email)

	pending, ok := f.ledger.TakeIfPresent(ctx, "sid-1")
	require.True(t, ok)
	assert.Equal(t, domain.PaymentMethodBit, pending.PaymentMethod)
	assert.Equal(t, int64(4400), pending.Amounts.TotalMinor)
}

func TestCallbackFor(t *testing.T) {
	assert.Equal(t, "https://shop.example/return?checkout_session=s-1&lang=he",
		payment.CallbackFor("https://shop.example/return?lang=he", "s-1"))
	assert.Equal(t, "https://shop.example/return", payment.CallbackFor("https://shop.example/return", ""))
	assert.Equal(t, "://bad", payment.CallbackFor("://bad", "s-1"))
}

func TestInitiate_RedirectFailureDiscardsLedgerEntry(t *testing.T) {
	f := newFixture()
	f.gateway.RedirectErr = errors.New("connection refused")

	out, err := f.strategy.Initiate(context.Background(), domain.RedirectSelection(domain.PaymentMethodPayPal), draft())
	require.ErrorIs(t, err, domain.ErrRedirectInitiation)
	assert.Equal(t, payment.OutcomeRejected, out.Kind)
	assert.Equal(t, payment.MessageCouldNotStart, out.Reason)
	assert.Zero(t, f.ledger.Len())
}

func TestInitiate_CardCreatesOrderOnce(t *testing.T) {
	f := newFixture()

	out, err := f.strategy.Initiate(context.Background(), domain.CreditCardSelection("hf-1"), draft())
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeImmediate, out.Kind)
	assert.NotEmpty(t, out.OrderID)
	require.NotNil(t, out.Card)
	assert.Empty(t, out.Card.Token)
	assert.Equal(t, "4242", out.Card.Last4)

	require.Equal(t, 1, f.orders.calls)
	payload := f.orders.payloads[0]
	assert.NotEmpty(t, payload.AttemptID)
	assert.Equal(t, "tok_hf-1", payload.Card.Token)
	assert.Equal(t, domain.PaymentMethodCreditCard, payload.Pending.PaymentMethod)
	assert.Zero(t, f.ledger.Len(), "card path does not use the ledger")
}

func TestInitiate_TokenizationMessageIsShownVerbatim(t *testing.T) {
	f := newFixture()
	f.gateway.TokenizeErr = &domain.GatewayError{Code: "card_declined", Message: "Your card was declined."}

	out, err := f.strategy.Initiate(context.Background(), domain.CreditCardSelection("hf-1"), draft())
	require.ErrorIs(t, err, domain.ErrTokenization)
	assert.Equal(t, payment.OutcomeRejected, out.Kind)
	assert.Equal(t, "Your card was declined.", out.Reason)
	assert.Zero(t, f.orders.calls)

	f.gateway.TokenizeErr = domain.ErrGatewayUnavailable
	out, err = f.strategy.Initiate(context.Background(), domain.CreditCardSelection("hf-1"), draft())
	require.ErrorIs(t, err, domain.ErrTokenization)
	assert.Equal(t, payment.MessageGatewayUnavailable, out.Reason)
}

func TestInitiate_CardOrderFailure(t *testing.T) {
	f := newFixture()
	f.orders.err = errors.New("order service timeout")

	out, err := f.strategy.Initiate(context.Background(), domain.CreditCardSelection("hf-1"), draft())
	require.ErrorIs(t, err, domain.ErrOrderCreation)
	assert.Equal(t, payment.OutcomeRejected, out.Kind)
	assert.Equal(t, 1, f.orders.calls)
}

func TestInitiate_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.strategy.Initiate(context.Background(), domain.PaymentMethodSelection{}, draft())
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, domain.ErrPaymentMethodRequired)

	_, err = f.strategy.Initiate(context.Background(), domain.CreditCardSelection(""), draft())
	require.ErrorIs(t, err, domain.ErrValidation)

	empty := draft()
	empty.Cart.Lines = nil
	_, err = f.strategy.Initiate(context.Background(), domain.RedirectSelection(domain.PaymentMethodBit), empty)
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	tok, red := f.gateway.Calls()
	assert.Zero(t, tok)
	assert.Zero(t, red)
}
