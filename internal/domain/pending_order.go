package domain

import "time"

// PendingOrder: снимок корзины, адреса и намерения оплатить, переживающий
// переход на страницу шлюза и обратно.
type PendingOrder struct {
	SessionID       string            `json:"session_id"`
	OwnerID         string            `json:"owner_id,omitempty"`
	Cart            CartSnapshot      `json:"cart"`
	ShippingAddress ShippingAddress   `json:"shipping_address"`
	PaymentMethod   PaymentMethodKind `json:"payment_method"`
	Amounts         Amounts           `json:"amounts"`
	Customer        Customer          `json:"customer"`
	CreatedAt       time.Time         `json:"created_at"`
}

// NewPendingOrder снимает копию корзины, чтобы последующие правки корзины
// не повлияли на платёж в процессе.
func NewPendingOrder(
	sessionID, ownerID string,
	cart CartSnapshot,
	address ShippingAddress,
	method PaymentMethodKind,
	customer Customer,
	now time.Time,
) PendingOrder {
	snapshot := cart.Clone()
	return PendingOrder{
		SessionID:       sessionID,
		OwnerID:         ownerID,
		Cart:            snapshot,
		ShippingAddress: address,
		PaymentMethod:   method,
		Amounts:         snapshot.Amounts(),
		Customer:        customer,
		CreatedAt:       now.UTC(),
	}
}
