package domain

import "strings"

// ResponseCodeSuccess: код успешной оплаты на странице возврата.
const ResponseCodeSuccess = "000"

// GenericPaymentFailure показывается для неизвестных кодов отказа.
const GenericPaymentFailure = "Payment failed"

var responseCodeReasons = map[string]string{
	"001": "Card blocked",
	"002": "Card reported stolen",
	"003": "Invalid card number",
	"004": "Transaction declined by issuer",
	"006": "Invalid CVV or ID number",
	"033": "Card expired",
	"036": "Card expired",
	"037": "Installments are not allowed for this card",
	"057": "ID number is required",
	"062": "Transaction type is not allowed for this card",
	"065": "Credit limit exceeded",
	"107": "Amount exceeds card limit",
	"900": "Transaction cancelled by customer",
}

// IsSuccessCode сообщает, что шлюз подтвердил оплату.
func IsSuccessCode(code string) bool {
	return strings.TrimSpace(code) == ResponseCodeSuccess
}

// DeclineReason переводит код отказа в текст для пользователя по фиксированной таблице.
func DeclineReason(code string) string {
	if reason, ok := responseCodeReasons[strings.TrimSpace(code)]; ok {
		return reason
	}
	return GenericPaymentFailure
}
