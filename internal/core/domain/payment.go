package domain

import (
	"fmt"
	"strings"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentCheck PaymentMethod = "check"
)

var paymentAliases = map[string]PaymentMethod{
	"cash":     PaymentCash,
	"efectivo": PaymentCash,
	"card":     PaymentCard,
	"tarjeta":  PaymentCard,
	"check":    PaymentCheck,
	"cheque":   PaymentCheck,
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m, ok := paymentAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}
	return m, nil
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentCheck:
		return true
	}
	return false
}
