// Package address выбирает адрес доставки для заказа: сохранённый или новый черновик,
// который записывается в Address Store с фиксированным числом повторов.
package address

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// RetryConfig задаёт политику повторов сохранения. Фиксированная пауза, без backoff и jitter.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryConfig возвращает 3 попытки с паузой в 1 секунду.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Second,
	}
}

// Selection приходит с шага доставки: либо id сохранённого адреса, либо черновик.
type Selection struct {
	AddressID string
	Draft     *domain.ShippingAddress
}

// Resolver: Address Resolver поверх внешнего Address Store.
type Resolver struct {
	store   domain.AddressStore
	config  RetryConfig
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
}

// NewResolver создаёт резолвер. Нулевые поля config заменяются значениями по умолчанию.
func NewResolver(store domain.AddressStore, config RetryConfig, m *metrics.CheckoutMetrics, logger *log.Entry) *Resolver {
	if logger == nil {
		logger = log.New().WithField("component", "address-resolver")
	}
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Delay < 0 {
		config.Delay = defaults.Delay
	}
	return &Resolver{store: store, config: config, logger: logger, metrics: m}
}

// List возвращает адреса владельца; у гостя адресной книги нет.
func (r *Resolver) List(ctx context.Context, ownerID string) ([]domain.ShippingAddress, error) {
	if ownerID == "" {
		return nil, nil
	}
	return r.store.List(ctx, ownerID)
}

// Preselect возвращает id адреса по умолчанию для повторного входа на шаг доставки.
func (r *Resolver) Preselect(ctx context.Context, ownerID string) (string, error) {
	addresses, err := r.List(ctx, ownerID)
	if err != nil {
		return "", err
	}
	idx, ok := domain.SelectDefault(addresses)
	if !ok {
		return "", nil
	}
	return addresses[idx].ID, nil
}

// Update правит сохранённый адрес владельца. IsDefault=true снимает флаг с остальных адресов.
func (r *Resolver) Update(ctx context.Context, ownerID, addressID string, patch domain.AddressPatch) (domain.ShippingAddress, error) {
	current, err := r.resolveSaved(ctx, ownerID, addressID)
	if err != nil {
		return domain.ShippingAddress{}, err
	}
	updated := patch.Apply(current).Normalize()
	if errs := updated.Validate(); len(errs) > 0 {
		return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrValidation, validationMessage(errs), errors.Join(errs...))
	}
	if err := r.store.Update(ctx, ownerID, addressID, patch); err != nil {
		if errors.Is(err, domain.ErrAddressNotFound) {
			return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrValidation, "The selected address no longer exists", err)
		}
		return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrAddressSave, "Could not save your address, please try again", err)
	}

	r.logger.WithFields(log.Fields{
		"owner_id":   ownerID,
		"address_id": addressID,
		"is_default": updated.IsDefault,
	}).Info("saved address updated")
	return updated, nil
}

// Resolve превращает выбор пользователя в адрес заказа. Черновик авторизованного
// пользователя сохраняется с повторами; гостевой черновик используется как есть.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, sel Selection) (domain.ShippingAddress, error) {
	switch {
	case sel.AddressID != "":
		return r.resolveSaved(ctx, ownerID, sel.AddressID)
	case sel.Draft != nil:
		return r.resolveDraft(ctx, ownerID, sel.Draft.Normalize())
	default:
		return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrValidation, "Please choose or enter a shipping address", nil)
	}
}

func (r *Resolver) resolveSaved(ctx context.Context, ownerID, addressID string) (domain.ShippingAddress, error) {
	if ownerID == "" {
		return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrValidation, "Sign in to use a saved address", domain.ErrOwnerRequired)
	}
	addresses, err := r.store.List(ctx, ownerID)
	if err != nil {
		return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrAddressSave, "Could not load your saved addresses", err)
	}
	for _, addr := range addresses {
		if addr.ID == addressID {
			return addr, nil
		}
	}
	return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrValidation, "The selected address no longer exists", domain.ErrAddressNotFound)
}

func (r *Resolver) resolveDraft(ctx context.Context, ownerID string, draft domain.ShippingAddress) (domain.ShippingAddress, error) {
	if errs := draft.Validate(); len(errs) > 0 {
		return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrValidation, validationMessage(errs), errors.Join(errs...))
	}
	draft.ID = ""
	if ownerID == "" {
		return draft, nil
	}

	var isFirst bool
	id, err := r.retry(ctx, ownerID, func() (string, error) {
		existing, err := r.store.List(ctx, ownerID)
		if err != nil {
			return "", fmt.Errorf("list addresses: %w", err)
		}
		isFirst = len(existing) == 0
		attemptDraft := draft
		if isFirst {
			attemptDraft.IsDefault = true
		}
		return r.store.Create(ctx, ownerID, attemptDraft)
	})
	if err != nil {
		return domain.ShippingAddress{}, domain.NewCheckoutError(domain.ErrAddressSave, "Could not save your address, please try again", err)
	}
	draft.ID = id
	if isFirst {
		draft.IsDefault = true
	}
	return draft, nil
}

// SaveWithRetry сохраняет черновик: до MaxAttempts попыток с фиксированной паузой,
// до первого успеха. Первый адрес владельца всегда становится адресом по умолчанию.
// После исчерпания попыток возвращается последняя ошибка.
func (r *Resolver) SaveWithRetry(ctx context.Context, ownerID string, draft domain.ShippingAddress, isFirst bool) (string, error) {
	if isFirst {
		draft.IsDefault = true
	}
	return r.retry(ctx, ownerID, func() (string, error) {
		return r.store.Create(ctx, ownerID, draft)
	})
}

// retry выполняет попытку сохранения по политике RetryConfig.
func (r *Resolver) retry(ctx context.Context, ownerID string, attemptFn func() (string, error)) (string, error) {
	if ownerID == "" {
		return "", domain.ErrOwnerRequired
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		id, err := attemptFn()
		if err == nil {
			r.metrics.RecordAddressSaveAttempt("ok")
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"owner_id": ownerID,
					"attempt":  attempt,
				}).Info("address saved after retry")
			}
			return id, nil
		}

		lastErr = err
		r.metrics.RecordAddressSaveAttempt("error")

		if !shouldRetry(err) {
			r.logger.WithError(err).WithField("owner_id", ownerID).Warn("address save failed with non-retryable error")
			return "", err
		}

		if attempt < r.config.MaxAttempts {
			r.logger.WithFields(log.Fields{
				"owner_id": ownerID,
				"attempt":  attempt,
				"delay":    r.config.Delay,
				"error":    err,
			}).Warn("address save failed, retrying")

			if err := sleep(ctx, r.config.Delay); err != nil {
				return "", fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}
	}

	r.logger.WithFields(log.Fields{
		"owner_id":     ownerID,
		"max_attempts": r.config.MaxAttempts,
		"error":        lastErr,
	}).Error("address save failed after all attempts")
	return "", lastErr
}

// shouldRetry не повторяет ошибки данных и отмену запроса.
func shouldRetry(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrOwnerRequired),
		errors.Is(err, domain.ErrAddressNotFound):
		return false
	default:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validationMessage(errs []error) string {
	fields := make([]string, 0, len(errs))
	for _, err := range errs {
		fields = append(fields, strings.TrimSuffix(err.Error(), " is required"))
	}
	return "Please fill in: " + strings.Join(fields, ", ")
}
