package domain

import "time"

// TaxRatePercent: плоская ставка налога от subtotal.
const TaxRatePercent = 10

// CartLine представляет одну позицию корзины.
type CartLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	ImageRef  string `json:"image_ref,omitempty"`
	// UnitPriceMinor: цена за единицу в минимальных денежных единицах (агоры, центы).
	UnitPriceMinor int64 `json:"unit_price_minor"`
	Quantity       int   `json:"quantity"`
	// StockLimit: известный остаток; nil, если склад не сообщил лимит.
	StockLimit *int `json:"stock_limit,omitempty"`
}

// Validate проверяет поля позиции без учёта лимита остатка.
func (l CartLine) Validate() []error {
	var errs []error

	if l.ProductID == "" {
		errs = append(errs, ErrCartLineProductRequired)
	}
	if l.Quantity < 1 {
		errs = append(errs, ErrCartLineQtyInvalid)
	}
	if l.UnitPriceMinor < 0 {
		errs = append(errs, ErrCartLinePriceInvalid)
	}
	if l.StockLimit != nil && *l.StockLimit < 0 {
		errs = append(errs, ErrCartLineStockInvalid)
	}

	return errs
}

// Clamp ограничивает количество известным остатком. Второе значение сообщает,
// было ли количество изменено.
func (l CartLine) Clamp() (CartLine, bool) {
	if l.StockLimit == nil || l.Quantity <= *l.StockLimit {
		return l, false
	}
	l.Quantity = *l.StockLimit
	return l, true
}

// LineTotalMinor: цена позиции с учётом количества.
func (l CartLine) LineTotalMinor() int64 {
	return l.UnitPriceMinor * int64(l.Quantity)
}

func (l CartLine) clone() CartLine {
	if l.StockLimit != nil {
		limit := *l.StockLimit
		l.StockLimit = &limit
	}
	return l
}

// Amounts: производные суммы корзины.
type Amounts struct {
	SubtotalMinor int64  `json:"subtotal_minor"`
	TaxMinor      int64  `json:"tax_minor"`
	ShippingMinor int64  `json:"shipping_minor"`
	TotalMinor    int64  `json:"total_minor"`
	Currency      string `json:"currency"`
}

// CartSnapshot: упорядоченный список позиций; порядок вставки совпадает с порядком отображения.
type CartSnapshot struct {
	CartID    string     `json:"cart_id"`
	Currency  string     `json:"currency"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsEmpty сообщает, что в корзине нет ни одной позиции.
func (c CartSnapshot) IsEmpty() bool {
	return len(c.Lines) == 0
}

// ItemCount: суммарное количество единиц товара.
func (c CartSnapshot) ItemCount() int {
	total := 0
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// SubtotalMinor = Σ(unitPrice × quantity).
func (c CartSnapshot) SubtotalMinor() int64 {
	var subtotal int64
	for _, line := range c.Lines {
		subtotal += line.LineTotalMinor()
	}
	return subtotal
}

// TaxMinor: 10% от subtotal, округление половины вверх.
func (c CartSnapshot) TaxMinor() int64 {
	return TaxFor(c.SubtotalMinor())
}

// ShippingMinor в текущей модели всегда ноль.
func (c CartSnapshot) ShippingMinor() int64 {
	return 0
}

// TotalMinor = subtotal + tax + shipping.
func (c CartSnapshot) TotalMinor() int64 {
	return c.SubtotalMinor() + c.TaxMinor() + c.ShippingMinor()
}

// Amounts собирает все суммы корзины.
func (c CartSnapshot) Amounts() Amounts {
	subtotal := c.SubtotalMinor()
	tax := TaxFor(subtotal)
	return Amounts{
		SubtotalMinor: subtotal,
		TaxMinor:      tax,
		ShippingMinor: 0,
		TotalMinor:    subtotal + tax,
		Currency:      c.Currency,
	}
}

// IndexOf возвращает позицию товара в корзине или -1.
func (c CartSnapshot) IndexOf(productID string) int {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone делает глубокую копию, чтобы последующие мутации корзины не затрагивали снимок.
func (c CartSnapshot) Clone() CartSnapshot {
	out := c
	if c.Lines != nil {
		out.Lines = make([]CartLine, len(c.Lines))
		for i, line := range c.Lines {
			out.Lines[i] = line.clone()
		}
	}
	return out
}

// TaxFor считает налог для суммы в минимальных единицах.
func TaxFor(subtotalMinor int64) int64 {
	if subtotalMinor <= 0 {
		return 0
	}
	return (subtotalMinor*TaxRatePercent + 50) / 100
}
