package domain

import "strings"

// PaymentMethodKind: вариант способа оплаты.
type PaymentMethodKind string

const (
	// PaymentMethodCreditCard: синхронная оплата картой через токен шлюза.
	PaymentMethodCreditCard PaymentMethodKind = "credit_card"
	PaymentMethodBit        PaymentMethodKind = "bit"
	PaymentMethodPayPal     PaymentMethodKind = "paypal"
	PaymentMethodApplePay   PaymentMethodKind = "apple_pay"
	PaymentMethodGooglePay  PaymentMethodKind = "google_pay"
	// PaymentMethodBankTransfer: банковский перевод через страницу шлюза.
	PaymentMethodBankTransfer PaymentMethodKind = "bank_transfer"
)

// Valid проверяет, что способ оплаты поддерживается.
func (k PaymentMethodKind) Valid() bool {
	return k == PaymentMethodCreditCard || k.IsRedirect()
}

// IsRedirect сообщает, что оплата требует перехода на страницу шлюза.
func (k PaymentMethodKind) IsRedirect() bool {
	switch k {
	case PaymentMethodBit, PaymentMethodPayPal, PaymentMethodApplePay,
		PaymentMethodGooglePay, PaymentMethodBankTransfer:
		return true
	default:
		return false
	}
}

// ParsePaymentMethodKind приводит строку к известному варианту.
func ParsePaymentMethodKind(raw string) (PaymentMethodKind, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", ErrPaymentMethodRequired
	}
	kind := PaymentMethodKind(raw)
	if !kind.Valid() {
		return "", ErrPaymentMethodUnsupported
	}
	return kind, nil
}

// PaymentMethodSelection: выбранный способ оплаты. Для карты хранится только ссылка
// на сессию hosted fields шлюза: номер карты через приложение не проходит.
type PaymentMethodSelection struct {
	Kind            PaymentMethodKind `json:"kind"`
	HostedFieldsRef string            `json:"hosted_fields_ref,omitempty"`
}

// CreditCardSelection строит вариант оплаты картой.
func CreditCardSelection(hostedFieldsRef string) PaymentMethodSelection {
	return PaymentMethodSelection{Kind: PaymentMethodCreditCard, HostedFieldsRef: hostedFieldsRef}
}

// RedirectSelection строит вариант оплаты через redirect.
func RedirectSelection(kind PaymentMethodKind) PaymentMethodSelection {
	return PaymentMethodSelection{Kind: kind}
}

// Validate проверяет, что активен ровно один корректный вариант.
func (s PaymentMethodSelection) Validate() error {
	if s.Kind == "" {
		return ErrPaymentMethodRequired
	}
	if !s.Kind.Valid() {
		return ErrPaymentMethodUnsupported
	}
	if s.Kind == PaymentMethodCreditCard && strings.TrimSpace(s.HostedFieldsRef) == "" {
		return ErrHostedFieldsRequired
	}
	return nil
}

// CardToken: непрозрачный токен шлюза и поля для отображения.
type CardToken struct {
	Token    string `json:"-"`
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`
}

// Customer: контактные данные покупателя.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// RedirectRequest: параметры создания redirect-сессии у шлюза.
type RedirectRequest struct {
	// CartID передаётся шлюзу как ссылка на корзину (идентификатор сессии оформления).
	CartID      string
	AmountMinor int64
	Currency    string
	Description string
	Method      PaymentMethodKind
	CallbackURL string
	Customer    Customer
}

// RedirectSession: ответ шлюза на создание redirect-сессии.
type RedirectSession struct {
	URL       string
	Reference string
}

// ReturnParams: параметры, с которыми шлюз возвращает браузер на callback URL.
type ReturnParams struct {
	ResponseCode         string
	TransactionReference string
}
