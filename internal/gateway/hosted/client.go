// Package hosted реализует клиент шлюза с hosted payment page: создаёт redirect-сессию
// и возвращает URL, на который браузер уходит целиком.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultBreakerOpen  = 30 * time.Second
	defaultMaxFailures  = 5
	maxResponseBodySize = 1 << 20
)

// Config: параметры подключения к шлюзу.
type Config struct {
	Endpoint string
	StoreID  string
	AuthKey  string
	TestMode bool
	Timeout  time.Duration
	// MaxFailures: подряд идущие сбои, после которых breaker размыкается.
	MaxFailures uint32
	// OpenTimeout: сколько breaker остаётся разомкнутым.
	OpenTimeout time.Duration
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент (тесты, прокси).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithStateListener подписывает на смену состояния breaker (метрики).
func WithStateListener(fn func(name string, from, to gobreaker.State)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// Client создаёт redirect-сессии. Сетевые сбои и 5xx учитываются circuit breaker'ом,
// отказ шлюза с сообщением об ошибке: нет.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *log.Entry
	onState    func(name string, from, to gobreaker.State)
	breaker    *gobreaker.CircuitBreaker[domain.RedirectSession]
}

var _ domain.RedirectGateway = (*Client)(nil)

// New создаёт клиент шлюза.
func New(cfg Config, options ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("hosted gateway: endpoint is required")
	}
	if strings.TrimSpace(cfg.StoreID) == "" || strings.TrimSpace(cfg.AuthKey) == "" {
		return nil, errors.New("hosted gateway: store id and auth key are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultBreakerOpen
	}

	c := &Client{cfg: cfg}
	for _, option := range options {
		option(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if c.logger == nil {
		c.logger = log.New().WithField("component", "hosted-gateway")
	}

	c.breaker = gobreaker.NewCircuitBreaker[domain.RedirectSession](gobreaker.Settings{
		Name:        "hosted-gateway",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			var gwErr *domain.GatewayError
			return err == nil || errors.As(err, &gwErr) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("gateway circuit breaker state changed")
			if c.onState != nil {
				c.onState(name, from, to)
			}
		},
	})
	return c, nil
}

type createRequest struct {
	Method   string          `json:"method"`
	Store    string          `json:"store"`
	AuthKey  string          `json:"authkey"`
	Order    orderPayload    `json:"order"`
	Customer customerPayload `json:"customer"`
	Return   returnPayload   `json:"return"`
}

type orderPayload struct {
	CartID      string `json:"cartid"`
	Test        int    `json:"test"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Method      string `json:"method"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type returnPayload struct {
	Authorised string `json:"authorised"`
	Declined   string `json:"declined"`
	Cancelled  string `json:"cancelled"`
}

type createResponse struct {
	Order struct {
		Ref string `json:"ref"`
		URL string `json:"url"`
	} `json:"order"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// BreakerOpen сообщает, что circuit breaker сейчас не пропускает запросы.
func (c *Client) BreakerOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

// CreateRedirect регистрирует платёж у шлюза и возвращает URL страницы оплаты.
func (c *Client) CreateRedirect(ctx context.Context, req domain.RedirectRequest) (domain.RedirectSession, error) {
	session, err := c.breaker.Execute(func() (domain.RedirectSession, error) {
		return c.create(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.RedirectSession{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return session, err
}

func (c *Client) create(ctx context.Context, req domain.RedirectRequest) (domain.RedirectSession, error) {
	test := 0
	if c.cfg.TestMode {
		test = 1
	}
	payload := createRequest{
		Method:  "create",
		Store:   c.cfg.StoreID,
		AuthKey: c.cfg.AuthKey,
		Order: orderPayload{
			CartID:      req.CartID,
			Test:        test,
			Amount:      FormatAmount(req.AmountMinor),
			Currency:    req.Currency,
			Description: req.Description,
			Method:      string(req.Method),
		},
		Customer: customerPayload{Name: req.Customer.Name, Email: req.Customer.Email, Phone: req.Customer.Phone},
		Return:   returnPayload{Authorised: req.CallbackURL, Declined: req.CallbackURL, Cancelled: req.CallbackURL},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.RedirectSession{}, fmt.Errorf("marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.RedirectSession{}, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.RedirectSession{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return domain.RedirectSession{}, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.RedirectSession{}, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RedirectSession{}, &domain.GatewayError{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: strings.TrimSpace(string(raw))}
	}

	var decoded createResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.RedirectSession{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	if decoded.Error != nil {
		return domain.RedirectSession{}, &domain.GatewayError{Code: decoded.Error.Code, Message: decoded.Error.Message}
	}
	if decoded.Order.URL == "" {
		return domain.RedirectSession{}, &domain.GatewayError{Message: "gateway returned empty payment URL"}
	}

	c.logger.WithFields(log.Fields{
		"session_id":      req.CartID,
		"method":          req.Method,
		"transaction_ref": decoded.Order.Ref,
	}).Info("redirect session created")
	return domain.RedirectSession{URL: decoded.Order.URL, Reference: decoded.Order.Ref}, nil
}

// FormatAmount переводит минимальные единицы в десятичную строку шлюза: 4400 -> "44.00".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
