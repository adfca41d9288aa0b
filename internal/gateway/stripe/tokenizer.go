// Package stripe обменивает идентификатор payment method, созданный hosted fields
// Stripe Elements в браузере, на метаданные карты для отображения.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type paymentMethodAPI interface {
	Get(id string, params *stripeapi.PaymentMethodParams) (*stripeapi.PaymentMethod, error)
}

// Tokenizer реализует domain.Tokenizer поверх Stripe PaymentMethods API.
type Tokenizer struct {
	api     paymentMethodAPI
	account string
	logger  *log.Entry
}

var _ domain.Tokenizer = (*Tokenizer)(nil)

// Config: параметры Stripe.
type Config struct {
	APIKey    string
	AccountID string
	Backends  *stripeapi.Backends
}

// NewTokenizer создаёт Tokenizer с клиентом Stripe.
func NewTokenizer(cfg Config, logger *log.Entry) (*Tokenizer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, cfg.Backends)
	return newTokenizer(sc.PaymentMethods, cfg.AccountID, logger), nil
}

func newTokenizer(api paymentMethodAPI, account string, logger *log.Entry) *Tokenizer {
	if logger == nil {
		logger = log.New().WithField("component", "stripe-tokenizer")
	}
	return &Tokenizer{api: api, account: strings.TrimSpace(account), logger: logger}
}

// Tokenize проверяет payment method и возвращает токен с brand/last4/exp.
// Ошибки Stripe отдаются как domain.GatewayError с сообщением Stripe без изменений.
func (t *Tokenizer) Tokenize(ctx context.Context, hostedFieldsRef string, customer domain.Customer) (domain.CardToken, error) {
	ref := strings.TrimSpace(hostedFieldsRef)
	if ref == "" {
		return domain.CardToken{}, domain.ErrHostedFieldsRequired
	}

	params := &stripeapi.PaymentMethodParams{}
	params.Context = ctx
	if t.account != "" {
		params.SetStripeAccount(t.account)
	}

	pm, err := t.api.Get(ref, params)
	if err != nil {
		var stripeErr *stripeapi.Error
		if errors.As(err, &stripeErr) {
			if stripeErr.HTTPStatusCode >= 500 {
				return domain.CardToken{}, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, stripeErr.Msg)
			}
			return domain.CardToken{}, &domain.GatewayError{Code: string(stripeErr.Code), Message: stripeErr.Msg}
		}
		return domain.CardToken{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if pm == nil || pm.Type != stripeapi.PaymentMethodTypeCard || pm.Card == nil {
		return domain.CardToken{}, &domain.GatewayError{Code: "not_a_card", Message: "The selected payment method is not a card"}
	}

	token := domain.CardToken{
		Token:    pm.ID,
		Brand:    strings.ToLower(string(pm.Card.Brand)),
		Last4:    strings.TrimSpace(pm.Card.Last4),
		ExpMonth: int(pm.Card.ExpMonth),
		ExpYear:  int(pm.Card.ExpYear),
	}
	if token.Token == "" {
		token.Token = ref
	}

	t.logger.WithFields(log.Fields{"brand": token.Brand, "last4": token.Last4}).Debug("card tokenized")
	return token, nil
}
