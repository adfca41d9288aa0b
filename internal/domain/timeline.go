package domain

import "time"

// Типы событий жизненного цикла оформления, публикуемых через outbox.
const (
	EventCheckoutStarted        = "CheckoutStarted"
	EventCheckoutPaymentFailed  = "CheckoutPaymentFailed"
	EventCheckoutRedirected     = "CheckoutRedirected"
	EventCheckoutCompleted      = "CheckoutCompleted"
	EventCheckoutReconcileError = "CheckoutReconcileFailed"
	EventOrderCreated           = "OrderCreated"
)

// CheckoutEvent описывает событие в жизненном цикле оформления.
type CheckoutEvent struct {
	SessionID string            `json:"session_id"`
	Type      string            `json:"type"`
	Status    CheckoutStatus    `json:"status"`
	Method    PaymentMethodKind `json:"method,omitempty"`
	OrderID   string            `json:"order_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Occurred  time.Time         `json:"occurred"`
}

// TimelineEvent: переход автомата оформления, сохранённый для аудита сессии.
type TimelineEvent struct {
	SessionID string         `json:"session_id"`
	From      CheckoutStatus `json:"from"`
	To        CheckoutStatus `json:"to"`
	Reason    string         `json:"reason,omitempty"`
	Occurred  time.Time      `json:"occurred"`
}
