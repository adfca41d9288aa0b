// Package payment сводит два семейства оплаты за одной операцией
// Initiate. Карта оплачивается синхронно через токен шлюза, остальные способы уходят
// на страницу шлюза через pending-order ledger.
package payment

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// OutcomeKind: вариант результата Initiate.
type OutcomeKind string

const (
	OutcomeImmediate   OutcomeKind = "immediate"
	OutcomeRedirecting OutcomeKind = "redirecting"
	OutcomeRejected    OutcomeKind = "rejected"
)

// Сообщения для пользователя.
const (
	MessageCouldNotStart      = "Could not start payment"
	MessageGatewayUnavailable = "Payment service is temporarily unavailable, please try again"
	MessageOrderNotPlaced     = "We could not place your order, please try again"
	MessageEmptyCart          = "Your cart is empty"
)

// SessionParam: параметр callback URL с id сессии оформления. Возврат со страницы
// шлюза может прийти кросс-сайтовым POST, в котором браузер не отправит Lax-cookie.
const SessionParam = "checkout_session"

// Outcome: результат попытки оплаты.
type Outcome struct {
	Kind        OutcomeKind
	OrderID     string
	RedirectURL string
	// Reference: ссылка шлюза на redirect-сессию, только для логов и событий.
	Reference string
	Reason    string
	// Card: отображаемые поля карты при оплате картой.
	Card *domain.CardToken
}

// Draft: всё, что известно о заказе на шаге оплаты.
type Draft struct {
	SessionID string
	OwnerID   string
	Cart      domain.CartSnapshot
	Address   domain.ShippingAddress
	Customer  domain.Customer
}

// Config: параметры стратегии.
type Config struct {
	// CallbackURL: URL возврата со страницы шлюза; к нему добавляется SessionParam.
	CallbackURL string
	Description string
}

// Strategy выбирает путь оплаты по варианту PaymentMethodSelection.
type Strategy struct {
	tokenizer domain.Tokenizer
	redirects domain.RedirectGateway
	orders    domain.OrderService
	ledger    domain.PendingOrderLedger
	config    Config
	metrics   *metrics.CheckoutMetrics
	logger    *log.Entry
	now       func() time.Time
	newID     func() string
}

// NewStrategy создаёт стратегию оплаты.
func NewStrategy(
	tokenizer domain.Tokenizer,
	redirects domain.RedirectGateway,
	orders domain.OrderService,
	ledger domain.PendingOrderLedger,
	config Config,
	m *metrics.CheckoutMetrics,
	logger *log.Entry,
) *Strategy {
	if logger == nil {
		logger = log.New().WithField("component", "payment-strategy")
	}
	if config.Description == "" {
		config.Description = "Online order"
	}
	return &Strategy{
		tokenizer: tokenizer,
		redirects: redirects,
		orders:    orders,
		ledger:    ledger,
		config:    config,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Initiate запускает оплату. Отказ возвращается как Outcome{Kind: Rejected} вместе
// с *domain.CheckoutError, по классу которого вызывающий выбирает реакцию.
func (s *Strategy) Initiate(ctx context.Context, sel domain.PaymentMethodSelection, draft Draft) (Outcome, error) {
	start := s.now()
	defer func() {
		s.metrics.RecordStepDuration(string(domain.CheckoutStepPayment), s.now().Sub(start))
	}()

	if err := sel.Validate(); err != nil {
		return s.reject(sel.Kind, domain.NewCheckoutError(domain.ErrValidation, SelectionMessage(err), err))
	}
	if draft.Cart.IsEmpty() {
		return s.reject(sel.Kind, domain.NewCheckoutError(domain.ErrValidation, MessageEmptyCart, domain.ErrEmptyCart))
	}

	var (
		out Outcome
		err error
	)
	if sel.Kind.IsRedirect() {
		out, err = s.initiateRedirect(ctx, sel.Kind, draft)
	} else {
		out, err = s.initiateCard(ctx, sel.HostedFieldsRef, draft)
	}
	if err != nil {
		return s.reject(sel.Kind, err)
	}
	s.metrics.RecordPaymentOutcome(string(sel.Kind), string(out.Kind))
	return out, nil
}

func (s *Strategy) initiateCard(ctx context.Context, hostedFieldsRef string, draft Draft) (Outcome, error) {
	token, err := s.tokenizer.Tokenize(ctx, hostedFieldsRef, draft.Customer)
	if err != nil {
		return Outcome{}, domain.NewCheckoutError(domain.ErrTokenization, tokenizationMessage(err), err)
	}

	attemptID := s.newID()
	pending := domain.NewPendingOrder(draft.SessionID, draft.OwnerID, draft.Cart, draft.Address,
		domain.PaymentMethodCreditCard, draft.Customer, s.now())

	// Один вызов на попытку: повтор создаст новую попытку с новым ключом.
	orderID, err := s.orders.Create(ctx, domain.OrderPayload{Pending: pending, Card: &token, AttemptID: attemptID})
	if err != nil {
		return Outcome{}, domain.NewCheckoutError(domain.ErrOrderCreation, MessageOrderNotPlaced, err)
	}

	s.logger.WithFields(log.Fields{
		"session_id": draft.SessionID,
		"order_id":   orderID,
		"attempt":    attemptID,
	}).Info("card payment completed")

	display := token
	display.Token = ""
	return Outcome{Kind: OutcomeImmediate, OrderID: orderID, Card: &display}, nil
}

func (s *Strategy) initiateRedirect(ctx context.Context, method domain.PaymentMethodKind, draft Draft) (Outcome, error) {
	pending := domain.NewPendingOrder(draft.SessionID, draft.OwnerID, draft.Cart, draft.Address,
		method, draft.Customer, s.now())

	// Запись ledger должна существовать до того, как браузер уйдёт на страницу шлюза.
	if err := s.ledger.Put(ctx, draft.SessionID, pending); err != nil {
		return Outcome{}, domain.NewCheckoutError(domain.ErrRedirectInitiation, MessageCouldNotStart, err)
	}

	session, err := s.redirects.CreateRedirect(ctx, domain.RedirectRequest{
		CartID:      draft.SessionID,
		AmountMinor: pending.Amounts.TotalMinor,
		Currency:    pending.Amounts.Currency,
		Description: s.config.Description,
		Method:      method,
		CallbackURL: CallbackFor(s.config.CallbackURL, draft.SessionID),
		Customer:    draft.Customer,
	})
	if err != nil {
		if discardErr := s.ledger.Discard(ctx, draft.SessionID); discardErr != nil {
			s.logger.WithError(discardErr).WithField("session_id", draft.SessionID).Warn("discard pending order failed")
		}
		return Outcome{}, domain.NewCheckoutError(domain.ErrRedirectInitiation, MessageCouldNotStart, err)
	}

	s.logger.WithFields(log.Fields{
		"session_id":      draft.SessionID,
		"method":          method,
		"transaction_ref": session.Reference,
	}).Info("redirect payment started")
	return Outcome{Kind: OutcomeRedirecting, RedirectURL: session.URL, Reference: session.Reference}, nil
}

// CallbackFor добавляет id сессии к URL возврата. Некорректный URL возвращается как есть.
func CallbackFor(callbackURL, sessionID string) string {
	target, err := url.Parse(callbackURL)
	if err != nil || sessionID == "" {
		return callbackURL
	}
	query := target.Query()
	query.Set(SessionParam, sessionID)
	target.RawQuery = query.Encode()
	return target.String()
}

func (s *Strategy) reject(method domain.PaymentMethodKind, err error) (Outcome, error) {
	s.metrics.RecordPaymentOutcome(string(method), string(OutcomeRejected))
	s.logger.WithError(err).WithField("method", method).Warn("payment rejected")
	return Outcome{Kind: OutcomeRejected, Reason: domain.UserMessage(err)}, err
}

// tokenizationMessage отдаёт сообщение шлюза почти дословно: оно уже рассчитано на пользователя.
func tokenizationMessage(err error) string {
	var gwErr *domain.GatewayError
	switch {
	case errors.As(err, &gwErr) && gwErr.Message != "":
		return gwErr.Message
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return MessageGatewayUnavailable
	case errors.Is(err, domain.ErrHostedFieldsRequired):
		return "Please enter your card details"
	default:
		return "Card could not be processed"
	}
}

// SelectionMessage переводит ошибку выбора способа оплаты в сообщение для пользователя.
func SelectionMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrPaymentMethodRequired):
		return "Please choose a payment method"
	case errors.Is(err, domain.ErrHostedFieldsRequired):
		return "Please enter your card details"
	default:
		return "This payment method is not supported"
	}
}
