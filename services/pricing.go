package services

import (
	"fmt"
	"strings"

	"checkout-service/models"

	"github.com/shopspring/decimal"
)

// DefaultShippingRates is used when SHIPPING_RATES is not configured.
const DefaultShippingRates = "standard=5.99,express=14.99,overnight=29.99"

// Pricing computes order totals: a shipping rate looked up by method plus a
// flat tax on the subtotal.
type Pricing struct {
	shippingRates map[models.ShippingMethod]decimal.Decimal
	taxRate       decimal.Decimal
	currency      string
}

// Quote is the breakdown of an order total.
type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

func NewPricing(rates map[models.ShippingMethod]decimal.Decimal, taxRate decimal.Decimal, currency string) (*Pricing, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("at least one shipping rate is required")
	}
	if taxRate.IsNegative() || taxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("tax rate must be in [0, 1), got %s", taxRate)
	}
	if currency == "" {
		currency = "usd"
	}
	return &Pricing{shippingRates: rates, taxRate: taxRate, currency: strings.ToLower(currency)}, nil
}

// ParseShippingRates parses "standard=5.99,express=14.99".
func ParseShippingRates(raw string) (map[models.ShippingMethod]decimal.Decimal, error) {
	rates := make(map[models.ShippingMethod]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid shipping rate %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid shipping rate %q: %w", pair, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("shipping rate %q is negative", pair)
		}
		rates[models.ShippingMethod(strings.TrimSpace(name))] = rate
	}
	return rates, nil
}

func (p *Pricing) Currency() string { return p.currency }

// ShippingCost reports the rate for method and whether the method exists.
func (p *Pricing) ShippingCost(method models.ShippingMethod) (decimal.Decimal, bool) {
	rate, ok := p.shippingRates[method]
	return rate, ok
}

// Quote prices items shipped with method. Tax is rounded to cents.
func (p *Pricing) Quote(items []models.OrderItem, method models.ShippingMethod) (Quote, error) {
	shipping, ok := p.ShippingCost(method)
	if !ok {
		return Quote{}, fmt.Errorf("unknown shipping method %q", method)
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	tax := subtotal.Mul(p.taxRate).Round(2)

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}, nil
}
