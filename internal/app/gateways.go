package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/hosted"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/mock"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/stripe"
	"github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

var errBreakerOpen = errors.New("gateway circuit breaker is open")

type gateways struct {
	tokenizer domain.Tokenizer
	redirects domain.RedirectGateway
	// check nil, если redirect-шлюз внутрипроцессный.
	check health.Checker
	// verifier nil, если шлюз не умеет подтверждать возврат.
	verifier domain.ReturnVerifier
}

// initGateways выбирает реальные шлюзы по наличию ключей; без них работает mock.
func initGateways(cfg Config, m *metrics.CheckoutMetrics, logger *log.Entry) (*gateways, error) {
	var (
		gw       gateways
		fallback *mock.Gateway
	)
	mockGateway := func() *mock.Gateway {
		if fallback == nil {
			fallback = mock.NewGateway()
		}
		return fallback
	}

	if cfg.StripeAPIKey != "" {
		tokenizer, err := stripe.NewTokenizer(stripe.Config{
			APIKey:    cfg.StripeAPIKey,
			AccountID: cfg.StripeAccountID,
		}, logger.WithField("component", "stripe-tokenizer"))
		if err != nil {
			return nil, err
		}
		gw.tokenizer = tokenizer
	} else {
		logger.Warn("stripe api key is not set, card tokenization uses the mock gateway")
		gw.tokenizer = mockGateway()
	}

	if cfg.GatewayURL != "" {
		client, err := hosted.New(hosted.Config{
			Endpoint: cfg.GatewayURL,
			StoreID:  cfg.GatewayStoreID,
			AuthKey:  cfg.GatewayAuthKey,
			TestMode: cfg.GatewayTest,
			Timeout:  cfg.GatewayTimeout,
		},
			hosted.WithLogger(logger.WithField("component", "hosted-gateway")),
			hosted.WithStateListener(func(name string, _, to gobreaker.State) {
				m.RecordBreakerState(name, int(to))
			}),
		)
		if err != nil {
			return nil, err
		}
		gw.redirects = client
		gw.check = health.NewOptionalChecker("payment_gateway", func(context.Context) error {
			if client.BreakerOpen() {
				return errBreakerOpen
			}
			return nil
		})
	} else {
		logger.Warn("gateway url is not set, redirect payments use the mock gateway")
		gw.redirects = mockGateway()
	}
	if verifier, ok := gw.redirects.(domain.ReturnVerifier); ok {
		gw.verifier = verifier
	}

	return &gw, nil
}
