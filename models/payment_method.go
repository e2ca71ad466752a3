package models

import "fmt"

// PaymentMethod is the closed set of ways a customer can pay.
type PaymentMethod string

const (
	PaymentMethodCard          PaymentMethod = "card"
	PaymentMethodLink          PaymentMethod = "link"
	PaymentMethodUSBankAccount PaymentMethod = "us_bank_account"
)

// SupportedPaymentMethods lists every accepted payment method.
var SupportedPaymentMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodLink,
	PaymentMethodUSBankAccount,
}

// ParsePaymentMethod maps a client identifier onto a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	for _, m := range SupportedPaymentMethods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unsupported payment method %q", s)
}

// ShippingMethod identifies a shipping rate.
type ShippingMethod string

const (
	ShippingMethodStandard  ShippingMethod = "standard"
	ShippingMethodExpress   ShippingMethod = "express"
	ShippingMethodOvernight ShippingMethod = "overnight"
)
