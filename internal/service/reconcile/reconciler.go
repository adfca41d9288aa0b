// Package reconcile сверяет результат шлюза, с которым браузер вернулся на callback URL,
// с записью pending-order ledger и завершает либо проваливает заказ.
package reconcile

import (
	"context"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Сообщения для пользователя.
const (
	MessageNotFound      = "No pending order found; please check your account for order status"
	MessageCheckAccount  = "Your payment may have gone through, but we could not confirm your order. Please check your account before trying again"
	MessageMissingTxnRef = "The payment gateway did not return a transaction reference. Please check your account for order status"
)

// Result: итог одной загрузки страницы возврата.
type Result struct {
	Status  domain.CheckoutStatus
	OrderID string
	Message string
	// Err: *domain.CheckoutError для Failed.
	Err error
	// Pending: запись, снятая с ledger; по ней восстанавливается шаг оплаты для повтора.
	Pending *domain.PendingOrder
	// Retryable: после отказа шлюза можно вернуться к выбору оплаты.
	Retryable bool
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithVerifier включает проверку кода успеха у шлюза перед созданием заказа.
// Без него Response=000 из callback принимается как есть.
func WithVerifier(verifier domain.ReturnVerifier) Option {
	return func(r *Reconciler) {
		r.verifier = verifier
	}
}

// Reconciler: Return Reconciler.
type Reconciler struct {
	verifier domain.ReturnVerifier
	ledger   domain.PendingOrderLedger
	orders   domain.OrderService
	cart     domain.CartProvider
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewReconciler создаёт сверку возврата.
func NewReconciler(
	ledger domain.PendingOrderLedger,
	orders domain.OrderService,
	cart domain.CartProvider,
	m *metrics.CheckoutMetrics,
	logger *log.Entry,
	options ...Option,
) *Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "return-reconciler")
	}
	r := &Reconciler{ledger: ledger, orders: orders, cart: cart, metrics: m, logger: logger, now: time.Now}
	for _, option := range options {
		option(r)
	}
	return r
}

// Reconcile выполняется один раз на загрузку страницы возврата. Запись ledger снимается
// до любых внешних вызовов, поэтому повторная загрузка (кнопка «назад») видит её отсутствие.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, params domain.ReturnParams) Result {
	start := r.now()
	defer func() {
		r.metrics.RecordStepDuration(string(domain.CheckoutStepReconcile), r.now().Sub(start))
	}()

	logger := r.logger.WithFields(log.Fields{
		"session_id":      sessionID,
		"transaction_ref": params.TransactionReference,
	})

	pending, ok := r.ledger.TakeIfPresent(ctx, sessionID)
	if !ok {
		r.metrics.RecordReconcile("not_found")
		logger.Warn("return page loaded without pending order")
		return failed(domain.NewCheckoutError(domain.ErrReconciliationNotFound, MessageNotFound, nil), nil, false)
	}

	if !domain.IsSuccessCode(params.ResponseCode) {
		reason := domain.DeclineReason(params.ResponseCode)
		r.metrics.RecordReconcile("declined")
		logger.WithField("response_code", params.ResponseCode).Info("gateway declined payment")
		return failed(domain.NewCheckoutError(domain.ErrGatewayDecline, reason, nil), &pending, true)
	}

	ref := strings.TrimSpace(params.TransactionReference)
	if ref == "" {
		r.metrics.RecordReconcile("order_error")
		logger.Error("successful return without transaction reference")
		return failed(domain.NewCheckoutError(domain.ErrOrderCreation, MessageMissingTxnRef, domain.ErrIdempotencyKeyRequired), &pending, false)
	}

	if r.verifier != nil {
		if err := r.verifier.VerifyReturn(ctx, sessionID, params); err != nil {
			r.metrics.RecordReconcile("unverified")
			logger.WithError(err).Error("gateway did not confirm successful return")
			return failed(domain.NewCheckoutError(domain.ErrOrderCreation, MessageCheckAccount, err), &pending, false)
		}
	}

	// Ровно один вызов: повтор здесь опирается только на дедупликацию Order Service.
	orderID, err := r.orders.Create(ctx, domain.OrderPayload{Pending: pending, TransactionReference: ref})
	if err != nil {
		r.metrics.RecordReconcile("order_error")
		logger.WithError(err).Error("order creation failed after successful payment")
		return failed(domain.NewCheckoutError(domain.ErrOrderCreation, MessageCheckAccount, err), &pending, false)
	}

	if err := r.cart.Clear(ctx, sessionID); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Warn("clear cart after order failed")
	}

	r.metrics.RecordReconcile("completed")
	logger.WithField("order_id", orderID).Info("redirect payment reconciled")
	return Result{Status: domain.CheckoutStatusCompleted, OrderID: orderID, Pending: &pending}
}

func failed(err *domain.CheckoutError, pending *domain.PendingOrder, retryable bool) Result {
	return Result{
		Status:    domain.CheckoutStatusFailed,
		Message:   err.Message,
		Err:       err,
		Pending:   pending,
		Retryable: retryable,
	}
}

// ParseReturnParams достаёт код ответа и transaction reference из параметров возврата.
// Поддерживаются имена полей нескольких шлюзов.
func ParseReturnParams(values url.Values) domain.ReturnParams {
	return domain.ReturnParams{
		ResponseCode:         firstOf(values, "Response", "response_code", "ResponseCode"),
		TransactionReference: firstOf(values, "index", "tran_ref", "ConfirmationCode"),
	}
}

func firstOf(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
