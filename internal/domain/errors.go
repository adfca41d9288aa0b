package domain

import "errors"

// Классы ошибок оформления заказа. Каждый класс завершает текущую попытку перехода
// и оставляет автомат в понятном пользователю состоянии.
var (
	// ErrValidation: некорректные данные адреса или не выбран способ оплаты.
	ErrValidation = errors.New("validation error")
	// ErrAddressSave: адрес не удалось сохранить после всех попыток.
	ErrAddressSave = errors.New("address save failed")
	// ErrTokenization: платёжный шлюз отклонил карту или недоступен.
	ErrTokenization = errors.New("card tokenization failed")
	// ErrRedirectInitiation: шлюз не выдал redirect URL.
	ErrRedirectInitiation = errors.New("redirect initiation failed")
	// ErrReconciliationNotFound: страница возврата открыта без записи в ledger.
	ErrReconciliationNotFound = errors.New("pending order not found")
	// ErrGatewayDecline: шлюз вернул код отказа.
	ErrGatewayDecline = errors.New("payment declined by gateway")
	// ErrOrderCreation: Order Service не создал заказ.
	ErrOrderCreation = errors.New("order creation failed")
)

var (
	// ErrEmptyCart: оформление начато с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrIllegalTransition: переход не разрешён из текущего состояния.
	ErrIllegalTransition = errors.New("illegal checkout transition")
	// ErrTransitionInFlight: предыдущий переход ещё выполняется.
	ErrTransitionInFlight = errors.New("checkout transition already in flight")
	// ErrRetryNotAllowed: после этой ошибки повтор оплаты не предлагается.
	ErrRetryNotAllowed = errors.New("retry is not allowed for this failure")
	// ErrSessionRequired: не передан идентификатор сессии оформления.
	ErrSessionRequired = errors.New("checkout session id is required")
	// ErrSessionNotFound: для сессии нет активного оформления.
	ErrSessionNotFound = errors.New("checkout session not found")
)

var (
	// ErrCartLineProductRequired: позиция корзины без product id.
	ErrCartLineProductRequired = errors.New("cart line product_id is required")
	// ErrCartLineQtyInvalid: количество меньше единицы.
	ErrCartLineQtyInvalid = errors.New("cart line quantity must be at least 1")
	// ErrCartLinePriceInvalid: отрицательная цена позиции.
	ErrCartLinePriceInvalid = errors.New("cart line unit price must be non-negative")
	// ErrCartLineStockInvalid: отрицательный лимит остатка.
	ErrCartLineStockInvalid = errors.New("cart line stock limit must be non-negative")
	// ErrCartLineNotFound: позиции нет в корзине.
	ErrCartLineNotFound = errors.New("cart line not found")
)

var (
	ErrAddressNameRequired       = errors.New("name is required")
	ErrAddressLine1Required      = errors.New("address_line1 is required")
	ErrAddressCityRequired       = errors.New("city is required")
	ErrAddressStateRequired      = errors.New("state is required")
	ErrAddressPostalCodeRequired = errors.New("postal_code is required")
	ErrAddressCountryRequired    = errors.New("country is required")
	// ErrAddressNotFound: адрес не найден у владельца.
	ErrAddressNotFound = errors.New("address not found")
	// ErrOwnerRequired: операция с адресной книгой без владельца.
	ErrOwnerRequired = errors.New("owner id is required")
)

var (
	// ErrPaymentMethodRequired: способ оплаты не выбран.
	ErrPaymentMethodRequired = errors.New("payment method is required")
	// ErrPaymentMethodUnsupported: неизвестный способ оплаты.
	ErrPaymentMethodUnsupported = errors.New("payment method is not supported")
	// ErrHostedFieldsRequired: для карты не передана ссылка на hosted fields.
	ErrHostedFieldsRequired = errors.New("hosted card fields reference is required")
	// ErrGatewayUnavailable: шлюз недоступен (сеть, circuit breaker).
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderDuplicate: заказ с таким ключом идемпотентности уже существует.
	ErrOrderDuplicate = errors.New("order with this idempotency key already exists")
	// ErrIdempotencyKeyRequired: у заказа нет ни transaction reference, ни ключа попытки,
	// либо у запроса пустой Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrAmountMismatch: сумма заказа не совпадает с суммой позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// ErrItemsRequired: в заказе нет позиций.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrCurrencyRequired: не указан код валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var (
	// ErrIdempotencyRequestHashRequired: не передан hash тела запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использован этим же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: записи для ключа нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// CheckoutError несёт класс ошибки и сообщение, которое можно показать пользователю.
type CheckoutError struct {
	Kind    error
	Message string
	Err     error
}

// NewCheckoutError создаёт ошибку заданного класса.
func NewCheckoutError(kind error, message string, cause error) *CheckoutError {
	return &CheckoutError{Kind: kind, Message: message, Err: cause}
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

// Unwrap позволяет проверять и класс, и первопричину через errors.Is.
func (e *CheckoutError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// UserMessage достаёт сообщение для пользователя из цепочки ошибок.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *CheckoutError
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return err.Error()
}

// ErrorKind возвращает класс ошибки оформления или nil.
func ErrorKind(err error) error {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return nil
}

// GatewayError: ошибка, пришедшая от платёжного шлюза; Message уже пригоден для показа.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return "gateway: " + e.Message
	}
	return "gateway " + e.Code + ": " + e.Message
}
