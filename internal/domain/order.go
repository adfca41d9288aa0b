package domain

import "time"

// SettlementStatus: статус расчёта по заказу.
type SettlementStatus string

const (
	// SettlementPaid: шлюз подтвердил оплату (redirect-методы).
	SettlementPaid SettlementStatus = "paid"
	// SettlementAuthorized: заказ оплачен токеном карты, списание на стороне Order Service.
	SettlementAuthorized SettlementStatus = "authorized"
)

// OrderItem: позиция заказа, снятая с корзины.
type OrderItem struct {
	ProductID      string
	Name           string
	Quantity       int
	UnitPriceMinor int64
}

// Order: итоговая запись заказа, принадлежащая Order Service.
type Order struct {
	ID                   string
	SessionID            string
	OwnerID              string
	IdempotencyKey       string
	TransactionReference string
	PaymentMethod        PaymentMethodKind
	CardBrand            string
	CardLast4            string
	Status               SettlementStatus
	Customer             Customer
	ShippingAddress      ShippingAddress
	Items                []OrderItem
	Amounts              Amounts
	CreatedAt            time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.IdempotencyKey == "" {
		errs = append(errs, ErrIdempotencyKeyRequired)
	}
	if o.Amounts.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	// Сверяем subtotal с суммой позиций, а total: с subtotal + tax + shipping.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity < 1 {
			errs = append(errs, ErrCartLineQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrCartLinePriceInvalid)
		}
		calc += int64(item.Quantity) * item.UnitPriceMinor
	}
	if calc != o.Amounts.SubtotalMinor ||
		o.Amounts.TotalMinor != o.Amounts.SubtotalMinor+o.Amounts.TaxMinor+o.Amounts.ShippingMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OrderPayload: то, что оркестратор передаёт в Order Service.
type OrderPayload struct {
	Pending PendingOrder
	// TransactionReference заполняется на пути redirect после подтверждения шлюза.
	TransactionReference string
	// Card заполняется на пути оплаты картой.
	Card *CardToken
	// AttemptID: идентификатор попытки оплаты картой.
	AttemptID string
}

// IdempotencyKey: ключ, по которому Order Service не создаёт заказ дважды.
func (p OrderPayload) IdempotencyKey() string {
	if p.TransactionReference != "" {
		return "txn:" + p.TransactionReference
	}
	if p.AttemptID != "" {
		return "card:" + p.AttemptID
	}
	return ""
}
