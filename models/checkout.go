package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutItem is one cart line submitted by the client.
type CheckoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (i *CheckoutItem) UnmarshalJSON(data []byte) error {
	var wire struct {
		ProductID    string `json:"product_id"`
		ProductIDAlt string `json:"productId"`
		Quantity     int    `json:"quantity"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	i.ProductID = firstNonEmpty(wire.ProductID, wire.ProductIDAlt)
	i.Quantity = wire.Quantity
	return nil
}

// CheckoutRequest is the payload of POST /checkout. The storefront sends
// camelCase keys, so both spellings are accepted.
type CheckoutRequest struct {
	Items           []CheckoutItem `json:"items"`
	ShippingAddress Address        `json:"shipping_address"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingMethod  string         `json:"shipping_method"`
	PaymentMethod   string         `json:"payment_method"`
}

func (r *CheckoutRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		Items              []CheckoutItem `json:"items"`
		ShippingAddress    *Address       `json:"shipping_address"`
		ShippingAddressAlt *Address       `json:"shippingAddress"`
		BillingAddress     *Address       `json:"billing_address"`
		BillingAddressAlt  *Address       `json:"billingAddress"`
		ShippingMethod     string         `json:"shipping_method"`
		ShippingMethodAlt  string         `json:"shippingMethod"`
		PaymentMethod      string         `json:"payment_method"`
		PaymentMethodAlt   string         `json:"paymentMethod"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.Items = wire.Items
	r.ShippingAddress = Address{}
	if a := firstAddress(wire.ShippingAddress, wire.ShippingAddressAlt); a != nil {
		r.ShippingAddress = *a
	}
	r.BillingAddress = firstAddress(wire.BillingAddress, wire.BillingAddressAlt)
	r.ShippingMethod = firstNonEmpty(wire.ShippingMethod, wire.ShippingMethodAlt)
	r.PaymentMethod = firstNonEmpty(wire.PaymentMethod, wire.PaymentMethodAlt)
	return nil
}

// CheckoutResult is returned once the order exists. PaymentIntentID and
// ClientSecret are empty when the gateway call failed.
type CheckoutResult struct {
	OrderID         uuid.UUID       `json:"order_id"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	ClientSecret    string          `json:"client_secret,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstAddress(addrs ...*Address) *Address {
	for _, a := range addrs {
		if a != nil {
			return a
		}
	}
	return nil
}
