package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	envPrefix = "CHECKOUT_"
)

// Config: настройки запуска checkout-service.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int

	KafkaBrokers string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	Currency           string
	CallbackURL        string
	PaymentDescription string

	GatewayURL     string
	GatewayStoreID string
	GatewayAuthKey string
	GatewayTest    bool
	GatewayTimeout time.Duration

	StripeAPIKey    string
	StripeAccountID string

	AddressRetryAttempts int
	AddressRetryDelay    time.Duration

	LedgerTTL           time.Duration
	LedgerSweepEvery    time.Duration
	LedgerSweepBatch    int
	CartTTL             time.Duration
	SessionIdleTTL      time.Duration
	SessionSweepEvery   time.Duration
	SessionCookieName   string
	SessionCookieSecure bool

	// IdempotencyTTL: сколько хранится ответ на запрос с Idempotency-Key.
	IdempotencyTTL        time.Duration
	IdempotencySweepEvery time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		KafkaTopic:            "checkout.events",
		OutboxPollInterval:    500 * time.Millisecond,
		OutboxBatchSize:       50,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      50 * time.Millisecond,
		Currency:              "ILS",
		CallbackURL:           "http://localhost:8080/v1/payments/return",
		PaymentDescription:    "Online order",
		GatewayTimeout:        10 * time.Second,
		AddressRetryAttempts:  3,
		AddressRetryDelay:     time.Second,
		LedgerTTL:             24 * time.Hour,
		LedgerSweepEvery:      time.Minute,
		LedgerSweepBatch:      500,
		CartTTL:               7 * 24 * time.Hour,
		SessionIdleTTL:        2 * time.Hour,
		SessionSweepEvery:     5 * time.Minute,
		SessionCookieName:     "checkout_sid",
		IdempotencyTTL:        24 * time.Hour,
		IdempotencySweepEvery: 10 * time.Minute,
	}
}

// ConfigFromEnv накладывает переменные окружения CHECKOUT_* на DefaultConfig.
func ConfigFromEnv() (Config, error) {
	return configFrom(os.LookupEnv)
}

func configFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str("HTTP_ADDR", &cfg.HTTPAddr)
	r.str("GRPC_ADDR", &cfg.GRPCAddr)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)
	r.str("LOG_LEVEL", &cfg.LogLevel)

	r.str("STORAGE_DRIVER", &cfg.StorageDriver)
	r.str("POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	r.str("REDIS_ADDR", &cfg.RedisAddr)
	r.str("REDIS_PASSWORD", &cfg.RedisPassword)
	r.integer("REDIS_DB", &cfg.RedisDB)

	r.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	r.str("KAFKA_TOPIC", &cfg.KafkaTopic)

	r.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	r.integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	r.integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	r.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	r.str("CURRENCY", &cfg.Currency)
	r.str("CALLBACK_URL", &cfg.CallbackURL)
	r.str("PAYMENT_DESCRIPTION", &cfg.PaymentDescription)

	r.str("GATEWAY_URL", &cfg.GatewayURL)
	r.str("GATEWAY_STORE_ID", &cfg.GatewayStoreID)
	r.str("GATEWAY_AUTH_KEY", &cfg.GatewayAuthKey)
	r.boolean("GATEWAY_TEST_MODE", &cfg.GatewayTest)
	r.duration("GATEWAY_TIMEOUT", &cfg.GatewayTimeout)

	r.str("STRIPE_API_KEY", &cfg.StripeAPIKey)
	r.str("STRIPE_ACCOUNT_ID", &cfg.StripeAccountID)

	r.integer("ADDRESS_RETRY_ATTEMPTS", &cfg.AddressRetryAttempts)
	r.duration("ADDRESS_RETRY_DELAY", &cfg.AddressRetryDelay)

	r.duration("LEDGER_TTL", &cfg.LedgerTTL)
	r.duration("LEDGER_SWEEP_INTERVAL", &cfg.LedgerSweepEvery)
	r.integer("LEDGER_SWEEP_BATCH", &cfg.LedgerSweepBatch)
	r.duration("CART_TTL", &cfg.CartTTL)
	r.duration("SESSION_IDLE_TTL", &cfg.SessionIdleTTL)
	r.duration("SESSION_SWEEP_INTERVAL", &cfg.SessionSweepEvery)
	r.str("SESSION_COOKIE", &cfg.SessionCookieName)
	r.boolean("SESSION_COOKIE_SECURE", &cfg.SessionCookieSecure)
	r.duration("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	r.duration("IDEMPOTENCY_SWEEP_INTERVAL", &cfg.IdempotencySweepEvery)

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		errs = append(errs, fmt.Errorf("currency must be an ISO 4217 code, got %q", c.Currency))
	}
	if u, err := url.Parse(c.CallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("callback url must be absolute, got %q", c.CallbackURL))
	}
	if c.GatewayURL != "" && (c.GatewayStoreID == "" || c.GatewayAuthKey == "") {
		errs = append(errs, errors.New("gateway store id and auth key are required with gateway url"))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and attempts must be positive"))
	}
	if c.AddressRetryAttempts <= 0 {
		errs = append(errs, errors.New("address retry attempts must be positive"))
	}
	if c.AddressRetryDelay < 0 || c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.LedgerTTL <= 0 {
		errs = append(errs, errors.New("ledger ttl must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be positive"))
	}
	if c.SessionCookieName == "" {
		errs = append(errs, errors.New("session cookie name is required"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// Brokers возвращает список Kafka-брокеров.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = n
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = b
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = d
}
