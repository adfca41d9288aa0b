package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

type apiClient struct {
	t       *testing.T
	srv     *httptest.Server
	session string
	owner   string
}

func newTestAPI(t *testing.T) (*apiClient, *application) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AddressRetryDelay = 0

	app, err := build(t.Context(), cfg, testLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(app.api.Handler())
	t.Cleanup(func() {
		srv.Close()
		app.close(testLogger())
	})
	return &apiClient{t: t, srv: srv}, app
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	return c.doWith(method, path, body, nil)
}

func (c *apiClient) doWith(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(c.t.Context(), method, c.srv.URL+path, &buf)
	require.NoError(c.t, err)
	if c.session != "" {
		req.Header.Set(sessionHeader, c.session)
	}
	if c.owner != "" {
		req.Header.Set(ownerHeader, c.owner)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	if id := resp.Header.Get(sessionHeader); id != "" {
		c.session = id
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (c *apiClient) fillCart() {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/cart/lines", domain.CartLine{
		ProductID: "mug", Name: "Mug", UnitPriceMinor: 2000, Quantity: 2,
	})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode)
}

func guestAddress() *domain.ShippingAddress {
	return &domain.ShippingAddress{
		Name: "Dana Levi", AddressLine1: "1 Herzl St", City: "Tel Aviv",
		State: "TA", PostalCode: "6100000", Country: "IL", Phone: "0500000000",
	}
}

func TestAPI_CardCheckout(t *testing.T) {
	client, app := newTestAPI(t)
	client.fillCart()
	require.NotEmpty(t, client.session)

	view := decode[checkout.View](t, client.do(http.MethodPost, "/v1/checkout/begin", nil))
	assert.Equal(t, domain.CheckoutStatusShipping, view.Status)
	assert.Equal(t, int64(4400), view.Amounts.TotalMinor)

	resp := client.do(http.MethodPost, "/v1/checkout/shipping", shippingRequest{
		Address:  guestAddress(),
		Customer: domain.Customer{Email: "dana@example.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.CheckoutStatusPayment, decode[checkout.View](t, resp).Status)

	resp = client.do(http.MethodPost, "/v1/checkout/payment", paymentRequest{Method: "credit_card", HostedFieldsRef: "hf_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decode[checkout.View](t, resp)
	assert.Equal(t, domain.CheckoutStatusCompleted, view.Status)
	require.NotEmpty(t, view.OrderID)

	snapshot, err := app.carts.Snapshot(t.Context(), client.session)
	require.NoError(t, err)
	assert.True(t, snapshot.IsEmpty())

	order := decode[domain.Order](t, client.do(http.MethodGet, "/v1/orders/"+view.OrderID, nil))
	assert.Equal(t, view.OrderID, order.ID)
	assert.Equal(t, "4242", order.CardLast4)
}

func TestAPI_RedirectCheckoutAndReturn(t *testing.T) {
	client, _ := newTestAPI(t)
	client.fillCart()
	client.do(http.MethodPost, "/v1/checkout/begin", nil)
	client.do(http.MethodPost, "/v1/checkout/shipping", shippingRequest{Address: guestAddress()})

	resp := client.do(http.MethodPost, "/v1/checkout/payment", paymentRequest{Method: "bit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[checkout.View](t, resp)
	require.Equal(t, domain.CheckoutStatusRedirectPending, view.Status)

	redirect, err := url.Parse(view.RedirectURL)
	require.NoError(t, err)
	resp = client.do(http.MethodGet, "/v1/payments/return?"+redirect.RawQuery, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decode[checkout.View](t, resp)
	assert.Equal(t, domain.CheckoutStatusCompleted, view.Status)
	assert.NotEmpty(t, view.OrderID)

	// Повторная загрузка страницы возврата не создаёт второй заказ.
	resp = client.do(http.MethodGet, "/v1/payments/return?"+redirect.RawQuery, nil)
	view = decode[checkout.View](t, resp)
	assert.Equal(t, domain.CheckoutStatusFailed, view.Status)
	assert.NotEmpty(t, view.Error)
}

func TestAPI_DeclinedReturnAllowsRetry(t *testing.T) {
	client, _ := newTestAPI(t)
	client.fillCart()
	client.do(http.MethodPost, "/v1/checkout/begin", nil)
	client.do(http.MethodPost, "/v1/checkout/shipping", shippingRequest{Address: guestAddress()})
	view := decode[checkout.View](t, client.do(http.MethodPost, "/v1/checkout/payment", paymentRequest{Method: "paypal"}))
	require.Equal(t, domain.CheckoutStatusRedirectPending, view.Status)

	resp := client.do(http.MethodPost, "/v1/payments/return?Response=033&index=T-1", nil)
	view = decode[checkout.View](t, resp)
	assert.Equal(t, domain.CheckoutStatusFailed, view.Status)
	assert.Equal(t, "Card expired", view.Error)
	assert.True(t, view.CanRetry)

	resp = client.do(http.MethodPost, "/v1/checkout/retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.CheckoutStatusPayment, decode[checkout.View](t, resp).Status)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	client, _ := newTestAPI(t)

	resp := client.do(http.MethodGet, "/v1/checkout", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	client.session = "unknown-session"
	resp = client.do(http.MethodGet, "/v1/checkout", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	client.fillCart()
	client.do(http.MethodPost, "/v1/checkout/begin", nil)
	resp = client.do(http.MethodPost, "/v1/checkout/payment", paymentRequest{Method: "credit_card", HostedFieldsRef: "hf"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = client.do(http.MethodPost, "/v1/checkout/shipping", shippingRequest{Address: &domain.ShippingAddress{Name: "Only name"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	view := decode[checkout.View](t, resp)
	assert.Equal(t, domain.CheckoutStatusShipping, view.Status)
	assert.Contains(t, view.Error, "Please fill in")
}

func TestAPI_CartClampAndAddresses(t *testing.T) {
	client, _ := newTestAPI(t)
	limit := 1
	resp := client.do(http.MethodPost, "/v1/cart/lines", domain.CartLine{ProductID: "p1", Quantity: 3, StockLimit: &limit})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[cartResponse](t, resp)
	require.NotNil(t, body.Adjustment)
	assert.Equal(t, 1, body.Adjustment.Applied)

	resp = client.do(http.MethodPatch, "/v1/cart/lines/p1", updateLineRequest{Quantity: 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[cartResponse](t, resp).Cart.IsEmpty())

	resp = client.do(http.MethodGet, "/v1/addresses", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]domain.ShippingAddress](t, resp))

	client.owner = "user-1"
	client.fillCart()
	client.do(http.MethodPost, "/v1/checkout/begin", nil)
	draft := guestAddress()
	resp = client.do(http.MethodPost, "/v1/checkout/shipping", shippingRequest{Address: draft})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[[]domain.ShippingAddress](t, client.do(http.MethodGet, "/v1/addresses", nil))
	require.Len(t, list, 1)
	assert.True(t, list[0].IsDefault)
}

func (c *apiClient) toPayment() {
	c.t.Helper()
	c.fillCart()
	c.do(http.MethodPost, "/v1/checkout/begin", nil)
	resp := c.do(http.MethodPost, "/v1/checkout/shipping", shippingRequest{Address: guestAddress()})
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
}

func TestAPI_IdempotentPaymentReplaysResponse(t *testing.T) {
	client, _ := newTestAPI(t)
	client.toPayment()
	headers := map[string]string{idempotencyKeyHeader: "pay-1"}
	req := paymentRequest{Method: "credit_card", HostedFieldsRef: "hf_1"}

	resp := client.doWith(http.MethodPost, "/v1/checkout/payment", req, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[checkout.View](t, resp)
	require.Equal(t, domain.CheckoutStatusCompleted, first.Status)

	resp = client.doWith(http.MethodPost, "/v1/checkout/payment", req, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(idempotencyReplayedHeader))
	assert.Equal(t, first.OrderID, decode[checkout.View](t, resp).OrderID)

	resp = client.doWith(http.MethodPost, "/v1/checkout/payment", paymentRequest{Method: "bit"}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Без ключа запрос идёт в автомат, который уже в Completed.
	resp = client.do(http.MethodPost, "/v1/checkout/payment", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_IdempotencyKeyIsScopedToSession(t *testing.T) {
	first, _ := newTestAPI(t)
	first.toPayment()
	headers := map[string]string{idempotencyKeyHeader: "same-key"}
	req := paymentRequest{Method: "credit_card", HostedFieldsRef: "hf_1"}

	resp := first.doWith(http.MethodPost, "/v1/checkout/payment", req, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	second := &apiClient{t: t, srv: first.srv}
	second.toPayment()
	resp = second.doWith(http.MethodPost, "/v1/checkout/payment", req, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(idempotencyReplayedHeader))
	assert.NotEqual(t, first.session, second.session)
}

func TestAPI_CrossSiteReturnWithoutSessionHeader(t *testing.T) {
	client, _ := newTestAPI(t)
	client.toPayment()
	view := decode[checkout.View](t, client.do(http.MethodPost, "/v1/checkout/payment", paymentRequest{Method: "bit"}))
	require.Equal(t, domain.CheckoutStatusRedirectPending, view.Status)

	redirect, err := url.Parse(view.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, client.session, redirect.Query().Get("checkout_session"))

	sessionID := client.session
	client.session = ""
	resp := client.doWith(http.MethodPost, "/v1/payments/return?"+redirect.RawQuery, nil,
		map[string]string{idempotencyKeyHeader: "return-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decode[checkout.View](t, resp)
	assert.Equal(t, domain.CheckoutStatusCompleted, view.Status)
	assert.Equal(t, sessionID, view.SessionID)

	// Повторный POST с тем же ключом отдаёт сохранённый ответ, а не «заказ не найден».
	resp = client.doWith(http.MethodPost, "/v1/payments/return?"+redirect.RawQuery, nil,
		map[string]string{idempotencyKeyHeader: "return-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, view.OrderID, decode[checkout.View](t, resp).OrderID)

	resp = client.do(http.MethodPost, "/v1/payments/return?Response=000&index=X", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ForgedSuccessReturnIsRejected(t *testing.T) {
	client, _ := newTestAPI(t)
	client.toPayment()
	view := decode[checkout.View](t, client.do(http.MethodPost, "/v1/checkout/payment", paymentRequest{Method: "bit"}))
	require.Equal(t, domain.CheckoutStatusRedirectPending, view.Status)

	resp := client.do(http.MethodGet, "/v1/payments/return?Response=000&index=FORGED", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	view = decode[checkout.View](t, resp)
	assert.Equal(t, domain.CheckoutStatusFailed, view.Status)
	assert.Empty(t, view.OrderID)
	assert.False(t, view.CanRetry)
}

func TestAPI_CheckoutHistory(t *testing.T) {
	client, _ := newTestAPI(t)
	client.toPayment()
	client.do(http.MethodPost, "/v1/checkout/back", nil)

	resp := client.do(http.MethodGet, "/v1/checkout/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]domain.TimelineEvent](t, resp)

	var path []domain.CheckoutStatus
	for _, ev := range events {
		path = append(path, ev.To)
	}
	assert.Equal(t, []domain.CheckoutStatus{
		domain.CheckoutStatusShipping,
		domain.CheckoutStatusPayment,
		domain.CheckoutStatusShipping,
	}, path)
}

func TestAPI_OwnerOrderHistory(t *testing.T) {
	client, _ := newTestAPI(t)

	resp := client.do(http.MethodGet, "/v1/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client.owner = "user-7"
	resp = client.do(http.MethodGet, "/v1/orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]domain.Order](t, resp))

	client.toPayment()
	view := decode[checkout.View](t, client.do(http.MethodPost, "/v1/checkout/payment",
		paymentRequest{Method: "credit_card", HostedFieldsRef: "hf_1"}))
	require.Equal(t, domain.CheckoutStatusCompleted, view.Status)

	list := decode[[]domain.Order](t, client.do(http.MethodGet, "/v1/orders?limit=5", nil))
	require.Len(t, list, 1)
	assert.Equal(t, view.OrderID, list[0].ID)

	resp = client.do(http.MethodGet, "/v1/orders?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	client.owner = "someone-else"
	assert.Empty(t, decode[[]domain.Order](t, client.do(http.MethodGet, "/v1/orders", nil)))
}

func TestAPI_UpdateAddressSetsDefault(t *testing.T) {
	client, app := newTestAPI(t)
	client.owner = "user-1"
	ctx := t.Context()

	first, err := app.api.addresses.SaveWithRetry(ctx, "user-1", *guestAddress(), true)
	require.NoError(t, err)
	second, err := app.api.addresses.SaveWithRetry(ctx, "user-1", *guestAddress(), false)
	require.NoError(t, err)

	def := true
	resp := client.do(http.MethodPatch, "/v1/addresses/"+second, domain.AddressPatch{IsDefault: &def})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[domain.ShippingAddress](t, resp).IsDefault)

	list := decode[[]domain.ShippingAddress](t, client.do(http.MethodGet, "/v1/addresses", nil))
	require.Len(t, list, 2)
	for _, addr := range list {
		assert.Equal(t, addr.ID == second, addr.IsDefault, "only %s is default", second)
	}
	assert.NotEqual(t, first, second)

	empty := ""
	resp = client.do(http.MethodPatch, "/v1/addresses/"+first, domain.AddressPatch{City: &empty})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = client.do(http.MethodPatch, "/v1/addresses/missing", domain.AddressPatch{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	client.owner = ""
	resp = client.do(http.MethodPatch, "/v1/addresses/"+first, domain.AddressPatch{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.NewCheckoutError(domain.ErrValidation, "x", nil)))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrTransitionInFlight))
	assert.Equal(t, http.StatusBadGateway, statusFor(domain.NewCheckoutError(domain.ErrGatewayDecline, "Card expired", nil)))
	assert.Equal(t, http.StatusBadGateway, statusFor(&domain.GatewayError{Message: "down"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.NewCheckoutError(domain.ErrAddressSave, "x", nil)))
	assert.Equal(t, http.StatusUnauthorized, statusFor(domain.ErrOwnerRequired))
	assert.Equal(t, http.StatusUnprocessableEntity,
		statusFor(domain.NewCheckoutError(domain.ErrValidation, "Sign in to use a saved address", domain.ErrOwnerRequired)))
}
