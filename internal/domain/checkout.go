package domain

// CheckoutStatus описывает шаг оформления заказа.
type CheckoutStatus string

const (
	// CheckoutStatusNew: автомат создан, но шаг доставки ещё не открыт.
	CheckoutStatusNew CheckoutStatus = ""
	// CheckoutStatusShipping: выбор или ввод адреса доставки.
	CheckoutStatusShipping CheckoutStatus = "shipping"
	// CheckoutStatusPayment: выбор способа оплаты.
	CheckoutStatusPayment CheckoutStatus = "payment"
	// CheckoutStatusSubmitting: синхронная оплата картой в процессе.
	CheckoutStatusSubmitting CheckoutStatus = "submitting"
	// CheckoutStatusRedirectPending: браузер уходит на страницу шлюза.
	CheckoutStatusRedirectPending CheckoutStatus = "redirect_pending"
	// CheckoutStatusCompleted: заказ создан, корзина очищена.
	CheckoutStatusCompleted CheckoutStatus = "completed"
	// CheckoutStatusFailed: попытка оплаты не удалась.
	CheckoutStatusFailed CheckoutStatus = "failed"
	// CheckoutStatusEmptyCart: корзина пуста, клиент должен уйти со страницы оформления.
	CheckoutStatusEmptyCart CheckoutStatus = "empty_cart"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusNew:             {CheckoutStatusShipping, CheckoutStatusEmptyCart},
	CheckoutStatusEmptyCart:       {CheckoutStatusShipping, CheckoutStatusEmptyCart},
	CheckoutStatusShipping:        {CheckoutStatusShipping, CheckoutStatusPayment, CheckoutStatusEmptyCart},
	CheckoutStatusPayment:         {CheckoutStatusShipping, CheckoutStatusSubmitting, CheckoutStatusRedirectPending},
	CheckoutStatusSubmitting:      {CheckoutStatusCompleted, CheckoutStatusFailed},
	CheckoutStatusRedirectPending: {CheckoutStatusCompleted, CheckoutStatusFailed},
	CheckoutStatusFailed:          {CheckoutStatusPayment},
}

// CanTransitionTo проверяет, разрешён ли переход.
func (s CheckoutStatus) CanTransitionTo(next CheckoutStatus) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из состояния нет переходов в рамках этой загрузки страницы.
func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusEmptyCart
}

func (s CheckoutStatus) String() string {
	if s == CheckoutStatusNew {
		return "new"
	}
	return string(s)
}
