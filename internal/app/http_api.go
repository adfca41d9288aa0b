package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/checkout/internal/cart"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/address"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

const (
	sessionHeader  = "X-Checkout-Session"
	ownerHeader    = "X-Owner-ID"
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20

	defaultOrdersLimit = 20
	maxOrdersLimit     = 100
)

// API: HTTP-поверхность checkout-service.
type API struct {
	carts     *cart.Store
	addresses *address.Resolver
	checkout  *checkout.Manager
	orders    *orders.Service
	// idempotency nil отключает Idempotency-Key.
	idempotency *idempotencyGuard
	cookie      sessionCookie
	logger      *log.Entry
}

type sessionCookie struct {
	name   string
	secure bool
}

// Handler собирает chi-роутер с otelhttp-обёрткой.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", a.getCart)
			r.Delete("/", a.clearCart)
			r.Post("/lines", a.addLine)
			r.Patch("/lines/{product_id}", a.updateLine)
			r.Delete("/lines/{product_id}", a.removeLine)
		})
		r.Get("/addresses", a.listAddresses)
		r.Patch("/addresses/{address_id}", a.updateAddress)
		r.Get("/orders", a.listOrders)
		r.Get("/orders/{order_id}", a.getOrder)
		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", a.viewCheckout)
			r.Get("/history", a.history)
			r.Post("/begin", a.begin)
			r.Post("/shipping", a.submitShipping)
			r.Post("/back", a.back)
			r.With(a.idempotency.middleware).Post("/payment", a.submitPayment)
			r.Post("/retry", a.retry)
		})
		r.Get("/payments/return", a.paymentReturn)
		r.With(a.idempotency.middleware).Post("/payments/return", a.paymentReturn)
	})

	return otelhttp.NewHandler(r, "checkout-http")
}

type cartResponse struct {
	Cart       domain.CartSnapshot `json:"cart"`
	Amounts    domain.Amounts      `json:"amounts"`
	Adjustment *cart.Adjustment    `json:"adjustment,omitempty"`
}

type updateLineRequest struct {
	Quantity int `json:"quantity"`
}

type shippingRequest struct {
	AddressID string                  `json:"address_id,omitempty"`
	Address   *domain.ShippingAddress `json:"address,omitempty"`
	Customer  domain.Customer         `json:"customer"`
}

type paymentRequest struct {
	Method          string `json:"method"`
	HostedFieldsRef string `json:"hosted_fields_ref,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) getCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	snapshot, err := a.carts.Snapshot(r.Context(), sessionID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse{Cart: snapshot, Amounts: snapshot.Amounts()})
}

func (a *API) addLine(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, true)
	if !ok {
		return
	}
	var line domain.CartLine
	if !decodeJSON(w, r, &line) {
		return
	}
	snapshot, adj, err := a.carts.Add(r.Context(), sessionID, line)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cartResponse{Cart: snapshot, Amounts: snapshot.Amounts(), Adjustment: adjustment(adj)})
}

func (a *API) updateLine(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	var req updateLineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	snapshot, adj, err := a.carts.UpdateQuantity(r.Context(), sessionID, chi.URLParam(r, "product_id"), req.Quantity)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse{Cart: snapshot, Amounts: snapshot.Amounts(), Adjustment: adjustment(adj)})
}

func (a *API) removeLine(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	snapshot, err := a.carts.Remove(r.Context(), sessionID, chi.URLParam(r, "product_id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse{Cart: snapshot, Amounts: snapshot.Amounts()})
}

func (a *API) clearCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	if err := a.carts.Clear(r.Context(), sessionID); err != nil {
		a.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listAddresses(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	if owner == "" {
		respondJSON(w, http.StatusOK, []domain.ShippingAddress{})
		return
	}
	list, err := a.addresses.List(r.Context(), owner)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.ShippingAddress{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) updateAddress(w http.ResponseWriter, r *http.Request) {
	var patch domain.AddressPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	updated, err := a.addresses.Update(r.Context(), ownerFrom(r), chi.URLParam(r, "address_id"), patch)
	switch {
	case errors.Is(err, domain.ErrOwnerRequired):
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: domain.UserMessage(err)})
		return
	case errors.Is(err, domain.ErrAddressNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: domain.UserMessage(err)})
		return
	case err != nil:
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// listOrders: история заказов владельца, новые первыми.
func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrdersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxOrdersLimit)
	}
	list, err := a.orders.ListByOwner(r.Context(), ownerFrom(r), limit)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.Get(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if order.OwnerID != ownerFrom(r) {
		a.respondError(w, r, domain.ErrOrderNotFound)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (a *API) viewCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	view, err := a.checkout.View(sessionID)
	a.respondView(w, r, view, err)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	events, err := a.checkout.History(r.Context(), sessionID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (a *API) begin(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, true)
	if !ok {
		return
	}
	view, err := a.checkout.Begin(r.Context(), sessionID, ownerFrom(r))
	a.respondView(w, r, view, err)
}

func (a *API) submitShipping(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	var req shippingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := a.checkout.SubmitShipping(r.Context(), sessionID, checkout.ShippingInput{
		Selection: address.Selection{AddressID: req.AddressID, Draft: req.Address},
		Customer:  req.Customer,
	})
	a.respondView(w, r, view, err)
}

func (a *API) back(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	view, err := a.checkout.Back(r.Context(), sessionID)
	a.respondView(w, r, view, err)
}

func (a *API) submitPayment(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Неизвестный способ оплаты не отбрасывается здесь: автомат вернёт отказ с сообщением.
	kind, _ := domain.ParsePaymentMethodKind(req.Method)
	if kind == "" {
		kind = domain.PaymentMethodKind(req.Method)
	}
	view, err := a.checkout.SubmitPayment(r.Context(), sessionID, domain.PaymentMethodSelection{
		Kind:            kind,
		HostedFieldsRef: req.HostedFieldsRef,
	})
	a.respondView(w, r, view, err)
}

func (a *API) retry(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := a.session(w, r, false)
	if !ok {
		return
	}
	view, err := a.checkout.Retry(r.Context(), sessionID)
	a.respondView(w, r, view, err)
}

// paymentReturn: URL возврата со страницы шлюза; выполняется один раз на загрузку.
// Без заголовка и cookie сессия берётся из callback URL.
func (a *API) paymentReturn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed return parameters"})
		return
	}
	sessionID := a.sessionFrom(r)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Form.Get(payment.SessionParam))
	}
	if sessionID == "" {
		a.respondError(w, r, domain.ErrSessionRequired)
		return
	}
	params := reconcile.ParseReturnParams(r.Form)
	view, err := a.checkout.Reconcile(r.Context(), sessionID, ownerFrom(r), params)
	a.respondView(w, r, view, err)
}

// session достаёт id сессии из заголовка или cookie. create выдаёт новый id, если его нет.
func (a *API) session(w http.ResponseWriter, r *http.Request, create bool) (string, bool) {
	if id := a.sessionFrom(r); id != "" {
		return id, true
	}
	if !create {
		a.respondError(w, r, domain.ErrSessionRequired)
		return "", false
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookie.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(sessionHeader, id)
	return id, true
}

func (a *API) sessionFrom(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(a.cookie.name); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

func ownerFrom(r *http.Request) string {
	return r.Header.Get(ownerHeader)
}

func (a *API) respondView(w http.ResponseWriter, r *http.Request, view checkout.View, err error) {
	if err == nil {
		respondJSON(w, http.StatusOK, view)
		return
	}
	if view.SessionID == "" {
		a.respondError(w, r, err)
		return
	}
	if view.Error == "" {
		view.Error = domain.UserMessage(err)
	}
	respondJSON(w, statusFor(err), view)
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.WithError(err).WithFields(log.Fields{
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
	}
	respondJSON(w, status, errorResponse{Error: domain.UserMessage(err)})
}

// statusFor переводит класс ошибки оформления в HTTP-статус.
func statusFor(err error) int {
	var gwErr *domain.GatewayError
	switch {
	case errors.Is(err, domain.ErrSessionRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrCartLineNotFound),
		errors.Is(err, domain.ErrReconciliationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransitionInFlight),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrRetryNotAllowed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrCartLineProductRequired),
		errors.Is(err, domain.ErrCartLineQtyInvalid),
		errors.Is(err, domain.ErrCartLinePriceInvalid),
		errors.Is(err, domain.ErrCartLineStockInvalid),
		errors.Is(err, domain.ErrPaymentMethodRequired),
		errors.Is(err, domain.ErrPaymentMethodUnsupported),
		errors.Is(err, domain.ErrHostedFieldsRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTokenization),
		errors.Is(err, domain.ErrRedirectInitiation),
		errors.Is(err, domain.ErrGatewayDecline),
		errors.Is(err, domain.ErrGatewayUnavailable),
		errors.Is(err, domain.ErrOrderCreation),
		errors.As(err, &gwErr):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrOwnerRequired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func adjustment(adj cart.Adjustment) *cart.Adjustment {
	if !adj.Clamped && !adj.Removed {
		return nil
	}
	return &adj
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
