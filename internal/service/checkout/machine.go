// Package checkout: конечный автомат оформления заказа:
// Shipping → Payment → (Submitting | RedirectPending) → Completed / Failed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/address"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

// AddressResolver: то, что автомату нужно от Address Resolver.
type AddressResolver interface {
	Resolve(ctx context.Context, ownerID string, sel address.Selection) (domain.ShippingAddress, error)
	Preselect(ctx context.Context, ownerID string) (string, error)
}

// PaymentInitiator: Payment Method Strategy.
type PaymentInitiator interface {
	Initiate(ctx context.Context, sel domain.PaymentMethodSelection, draft payment.Draft) (payment.Outcome, error)
}

// ReturnReconciler: Return Reconciler.
type ReturnReconciler interface {
	Reconcile(ctx context.Context, sessionID string, params domain.ReturnParams) reconcile.Result
}

// ShippingInput: данные шага доставки.
type ShippingInput struct {
	Selection address.Selection
	// Customer: контакты покупателя; пустые поля берутся из адреса.
	Customer domain.Customer
}

// Transition: запись в истории переходов.
type Transition struct {
	From domain.CheckoutStatus `json:"from"`
	To   domain.CheckoutStatus `json:"to"`
	At   time.Time             `json:"at"`
}

// View описывает состояние для UI (статус, сообщение об ошибке и id заказа).
type View struct {
	SessionID            string                   `json:"session_id"`
	Status               domain.CheckoutStatus    `json:"status"`
	Error                string                   `json:"error,omitempty"`
	CanRetry             bool                     `json:"can_retry,omitempty"`
	OrderID              string                   `json:"order_id,omitempty"`
	RedirectURL          string                   `json:"redirect_url,omitempty"`
	Cart                 domain.CartSnapshot      `json:"cart"`
	Amounts              domain.Amounts           `json:"amounts"`
	CartChanged          bool                     `json:"cart_changed,omitempty"`
	Address              *domain.ShippingAddress  `json:"shipping_address,omitempty"`
	PreselectedAddressID string                   `json:"preselected_address_id,omitempty"`
	PaymentMethod        domain.PaymentMethodKind `json:"payment_method,omitempty"`
	Card                 *domain.CardToken        `json:"card,omitempty"`
	History              []Transition             `json:"history,omitempty"`
}

const timelineTimeout = 3 * time.Second

type collaborators struct {
	cart      domain.CartProvider
	addresses AddressResolver
	payments  PaymentInitiator
	timeline  domain.TimelineRepository
	events    *eventEmitter
	metrics   *metrics.CheckoutMetrics
	logger    *log.Entry
	now       func() time.Time
}

// Machine: автомат одной сессии оформления. Переходы строго последовательны:
// попытка перехода во время выполнения другого возвращает ErrTransitionInFlight.
type Machine struct {
	sessionID string
	ownerID   string
	deps      *collaborators

	busy atomic.Bool

	mu          sync.Mutex
	status      domain.CheckoutStatus
	cart        domain.CartSnapshot
	cartChanged bool
	address     *domain.ShippingAddress
	preselected string
	customer    domain.Customer
	method      domain.PaymentMethodKind
	card        *domain.CardToken
	orderID     string
	redirectURL string
	lastErr     error
	canRetry    bool
	history     []Transition
	// unsaved: переходы, ещё не записанные в timeline.
	unsaved []domain.TimelineEvent
	touched time.Time
}

func newMachine(sessionID, ownerID string, deps *collaborators) *Machine {
	return &Machine{
		sessionID: sessionID,
		ownerID:   ownerID,
		deps:      deps,
		status:    domain.CheckoutStatusNew,
		touched:   deps.now(),
	}
}

// Status возвращает текущий статус.
func (m *Machine) Status() domain.CheckoutStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Begin входит в шаг доставки. Пустая корзина сразу переводит автомат в EmptyCart:
// клиент должен уйти со страницы оформления.
func (m *Machine) Begin(ctx context.Context) (View, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return View{}, err
	}
	defer release()
	defer m.observe(domain.CheckoutStepBegin)()

	snapshot, err := m.deps.cart.Snapshot(ctx, m.sessionID)
	if err != nil {
		return m.View(), fmt.Errorf("snapshot cart: %w", err)
	}

	if snapshot.IsEmpty() {
		m.mu.Lock()
		err := m.transitionLocked(domain.CheckoutStatusEmptyCart)
		m.cart = snapshot
		m.mu.Unlock()
		return m.View(), err
	}

	preselected, err := m.deps.addresses.Preselect(ctx, m.ownerID)
	if err != nil {
		m.deps.logger.WithError(err).WithField("session_id", m.sessionID).Warn("load saved addresses failed")
	}

	m.mu.Lock()
	first := m.status == domain.CheckoutStatusNew
	if err := m.transitionLocked(domain.CheckoutStatusShipping); err != nil {
		m.mu.Unlock()
		return m.View(), err
	}
	m.cart = snapshot
	m.cartChanged = false
	m.preselected = preselected
	m.lastErr = nil
	m.mu.Unlock()

	if first {
		m.emit(domain.EventCheckoutStarted, "")
	}
	return m.View(), nil
}

// SubmitShipping разрешает адрес и переходит к оплате. При ошибке автомат остаётся
// в Shipping, а ошибка доступна в View.
func (m *Machine) SubmitShipping(ctx context.Context, in ShippingInput) (View, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return View{}, err
	}
	defer release()
	defer m.observe(domain.CheckoutStepShipping)()

	if err := m.require(domain.CheckoutStatusShipping); err != nil {
		return m.View(), err
	}
	if m.cartEmpty() {
		return m.exitEmpty()
	}

	resolved, err := m.deps.addresses.Resolve(ctx, m.ownerID, in.Selection)
	if err != nil {
		return m.fail(domain.CheckoutStatusShipping, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cart.IsEmpty() {
		err := m.transitionLocked(domain.CheckoutStatusEmptyCart)
		m.lastErr = nil
		return m.viewLocked(), err
	}
	if err := m.transitionLocked(domain.CheckoutStatusPayment); err != nil {
		return m.viewLocked(), err
	}
	m.address = &resolved
	m.customer = customerFor(in.Customer, resolved)
	m.lastErr = nil
	m.canRetry = false
	return m.viewLocked(), nil
}

// Back возвращает из оплаты на шаг доставки без внешних вызовов. Если корзину
// опустошили, пока клиент был на оплате, шаг доставки сразу уходит в EmptyCart.
func (m *Machine) Back(ctx context.Context) (View, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return View{}, err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != domain.CheckoutStatusPayment {
		return m.viewLocked(), fmt.Errorf("%w: back from %s", domain.ErrIllegalTransition, m.status)
	}
	if err := m.transitionLocked(domain.CheckoutStatusShipping); err != nil {
		return m.viewLocked(), err
	}
	m.lastErr = nil
	if m.cart.IsEmpty() {
		err := m.transitionLocked(domain.CheckoutStatusEmptyCart)
		return m.viewLocked(), err
	}
	if m.address != nil && !m.address.IsDraft() {
		m.preselected = m.address.ID
	}
	return m.viewLocked(), nil
}

// SubmitPayment запускает оплату выбранным способом.
func (m *Machine) SubmitPayment(ctx context.Context, sel domain.PaymentMethodSelection) (View, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return View{}, err
	}
	defer release()

	if err := m.require(domain.CheckoutStatusPayment); err != nil {
		return m.View(), err
	}
	if err := sel.Validate(); err != nil {
		return m.fail(domain.CheckoutStatusPayment, domain.NewCheckoutError(domain.ErrValidation, payment.SelectionMessage(err), err))
	}
	if m.cartEmpty() {
		return m.fail(domain.CheckoutStatusPayment, domain.NewCheckoutError(domain.ErrValidation, payment.MessageEmptyCart, domain.ErrEmptyCart))
	}

	m.mu.Lock()
	draft := payment.Draft{
		SessionID: m.sessionID,
		OwnerID:   m.ownerID,
		Cart:      m.cart.Clone(),
		Customer:  m.customer,
	}
	if m.address != nil {
		draft.Address = *m.address
	}
	m.method = sel.Kind
	card := sel.Kind == domain.PaymentMethodCreditCard
	if card {
		if err := m.transitionLocked(domain.CheckoutStatusSubmitting); err != nil {
			m.mu.Unlock()
			return m.View(), err
		}
	}
	m.mu.Unlock()

	out, err := m.deps.payments.Initiate(ctx, sel, draft)
	if err != nil {
		if card {
			m.mu.Lock()
			_ = m.transitionLocked(domain.CheckoutStatusFailed)
			m.mu.Unlock()
		}
		m.emit(domain.EventCheckoutPaymentFailed, domain.UserMessage(err))
		return m.fail(domain.CheckoutStatusPayment, err)
	}

	switch out.Kind {
	case payment.OutcomeImmediate:
		if clearErr := m.deps.cart.Clear(ctx, m.sessionID); clearErr != nil {
			m.deps.logger.WithError(clearErr).WithField("order_id", out.OrderID).Warn("clear cart after order failed")
		}
		m.mu.Lock()
		err = m.transitionLocked(domain.CheckoutStatusCompleted)
		m.orderID = out.OrderID
		m.card = out.Card
		m.lastErr = nil
		m.mu.Unlock()
		m.emitOrder(domain.EventCheckoutCompleted, out.OrderID)
	case payment.OutcomeRedirecting:
		m.mu.Lock()
		err = m.transitionLocked(domain.CheckoutStatusRedirectPending)
		m.redirectURL = out.RedirectURL
		m.lastErr = nil
		m.mu.Unlock()
		m.emit(domain.EventCheckoutRedirected, "")
	default:
		err = fmt.Errorf("unexpected payment outcome %q", out.Kind)
	}
	return m.View(), err
}

// Retry возвращает из Failed к выбору оплаты. Разрешён только после отказа шлюза:
// при сбое создания заказа после оплаты повтор может создать дубль.
func (m *Machine) Retry(ctx context.Context) (View, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return View{}, err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != domain.CheckoutStatusFailed {
		return m.viewLocked(), fmt.Errorf("%w: retry from %s", domain.ErrIllegalTransition, m.status)
	}
	if !m.canRetry {
		return m.viewLocked(), domain.ErrRetryNotAllowed
	}
	if err := m.transitionLocked(domain.CheckoutStatusPayment); err != nil {
		return m.viewLocked(), err
	}
	m.lastErr = nil
	m.canRetry = false
	m.redirectURL = ""
	return m.viewLocked(), nil
}

// View возвращает снимок состояния; безопасен во время перехода.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() View {
	v := View{
		SessionID:            m.sessionID,
		Status:               m.status,
		CanRetry:             m.canRetry,
		OrderID:              m.orderID,
		RedirectURL:          m.redirectURL,
		Cart:                 m.cart.Clone(),
		Amounts:              m.cart.Amounts(),
		CartChanged:          m.cartChanged,
		PreselectedAddressID: m.preselected,
		PaymentMethod:        m.method,
		History:              append([]Transition(nil), m.history...),
	}
	if m.lastErr != nil {
		v.Error = domain.UserMessage(m.lastErr)
	}
	if m.address != nil {
		addr := *m.address
		v.Address = &addr
	}
	if m.card != nil {
		card := *m.card
		v.Card = &card
	}
	return v
}

// LastError возвращает ошибку последнего перехода.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// onCartChanged обновляет снимок корзины, пока оплата ещё не началась.
func (m *Machine) onCartChanged(snapshot domain.CartSnapshot) {
	if m.applyCart(snapshot) {
		m.flushTimeline(context.Background())
	}
}

// applyCart сообщает, ушёл ли автомат в EmptyCart.
func (m *Machine) applyCart(snapshot domain.CartSnapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case domain.CheckoutStatusShipping, domain.CheckoutStatusPayment:
	default:
		return false
	}
	m.cart = snapshot.Clone()
	m.cartChanged = true
	if snapshot.IsEmpty() && m.status == domain.CheckoutStatusShipping && !m.busy.Load() {
		return m.transitionLocked(domain.CheckoutStatusEmptyCart) == nil
	}
	return false
}

// restore переводит свежий автомат в результат сверки возврата.
func (m *Machine) restore(res reconcile.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res.Pending != nil {
		m.cart = res.Pending.Cart.Clone()
		addr := res.Pending.ShippingAddress
		m.address = &addr
		m.customer = res.Pending.Customer
		m.method = res.Pending.PaymentMethod
	}
	from := m.status
	m.status = res.Status
	reason := ""
	if res.Err != nil {
		reason = res.Message
	}
	m.recordLocked(from, res.Status, reason)
	m.orderID = res.OrderID
	m.lastErr = res.Err
	m.canRetry = res.Retryable
}

// acquire занимает автомат; release записывает накопленные переходы в timeline
// и освобождает его.
func (m *Machine) acquire(ctx context.Context) (func(), error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrTransitionInFlight
	}
	m.mu.Lock()
	m.touched = m.deps.now()
	m.mu.Unlock()
	return func() {
		m.flushTimeline(context.WithoutCancel(ctx))
		m.busy.Store(false)
	}, nil
}

func (m *Machine) flushTimeline(ctx context.Context) {
	m.mu.Lock()
	events := m.unsaved
	m.unsaved = nil
	m.mu.Unlock()
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timelineTimeout)
	defer cancel()
	if err := m.deps.timeline.Append(ctx, events...); err != nil {
		m.deps.logger.WithError(err).WithFields(log.Fields{
			"session_id": m.sessionID,
			"events":     len(events),
		}).Warn("checkout timeline append failed")
	}
}

func (m *Machine) require(allowed ...domain.CheckoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range allowed {
		if m.status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: operation not allowed in %s", domain.ErrIllegalTransition, m.status)
}

// exitEmpty переводит шаг доставки с пустой корзиной в EmptyCart.
func (m *Machine) exitEmpty() (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.transitionLocked(domain.CheckoutStatusEmptyCart)
	m.lastErr = nil
	return m.viewLocked(), err
}

func (m *Machine) cartEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.IsEmpty()
}

// fail фиксирует ошибку и возвращает автомат в понятное пользователю состояние.
func (m *Machine) fail(to domain.CheckoutStatus, err error) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != to {
		if tErr := m.transitionLocked(to); tErr != nil {
			m.deps.logger.WithError(tErr).WithField("session_id", m.sessionID).Error("recover state after failure")
		}
	}
	m.lastErr = err
	m.canRetry = false
	if n := len(m.unsaved); n > 0 && m.unsaved[n-1].To == to {
		m.unsaved[n-1].Reason = errorKindLabel(err)
	}
	m.deps.logger.WithFields(log.Fields{
		"session_id": m.sessionID,
		"status":     m.status,
		"kind":       errorKindLabel(err),
	}).WithError(err).Warn("checkout transition failed")
	return m.viewLocked(), err
}

func (m *Machine) transitionLocked(to domain.CheckoutStatus) error {
	from := m.status
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}
	m.status = to
	m.recordLocked(from, to, "")
	m.deps.logger.WithFields(log.Fields{
		"session_id": m.sessionID,
		"from":       from.String(),
		"to":         to.String(),
	}).Debug("checkout transition")
	return nil
}

func (m *Machine) recordLocked(from, to domain.CheckoutStatus, reason string) {
	at := m.deps.now().UTC()
	m.history = append(m.history, Transition{From: from, To: to, At: at})
	m.deps.metrics.RecordTransition(from.String(), to.String())
	if m.deps.timeline != nil {
		m.unsaved = append(m.unsaved, domain.TimelineEvent{
			SessionID: m.sessionID,
			From:      from,
			To:        to,
			Reason:    reason,
			Occurred:  at,
		})
	}
}

func (m *Machine) observe(step domain.CheckoutStep) func() {
	start := m.deps.now()
	return func() {
		m.deps.metrics.RecordStepDuration(string(step), m.deps.now().Sub(start))
	}
}

func (m *Machine) emit(eventType, reason string) {
	m.emitEvent(eventType, "", reason)
}

func (m *Machine) emitOrder(eventType, orderID string) {
	m.emitEvent(eventType, orderID, "")
}

func (m *Machine) emitEvent(eventType, orderID, reason string) {
	m.mu.Lock()
	event := domain.CheckoutEvent{
		SessionID: m.sessionID,
		Type:      eventType,
		Status:    m.status,
		Method:    m.method,
		OrderID:   orderID,
		Reason:    reason,
		Occurred:  m.deps.now().UTC(),
	}
	m.mu.Unlock()
	m.deps.events.emit(event)
}

func (m *Machine) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touched
}

func customerFor(in domain.Customer, addr domain.ShippingAddress) domain.Customer {
	if in.Name == "" {
		in.Name = addr.Name
	}
	if in.Phone == "" {
		in.Phone = addr.Phone
	}
	return in
}

func errorKindLabel(err error) string {
	if kind := domain.ErrorKind(err); kind != nil {
		return kind.Error()
	}
	if errors.Is(err, domain.ErrIllegalTransition) {
		return domain.ErrIllegalTransition.Error()
	}
	return "internal"
}
