package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Address is a structured postal address snapshot stored on an order.
type Address struct {
	Name       string `json:"name" gorm:"type:varchar(255)"`
	Line1      string `json:"line1" gorm:"type:varchar(255)"`
	Line2      string `json:"line2,omitempty" gorm:"type:varchar(255)"`
	City       string `json:"city" gorm:"type:varchar(128)"`
	State      string `json:"state,omitempty" gorm:"type:varchar(128)"`
	PostalCode string `json:"postal_code" gorm:"type:varchar(32)"`
	Country    string `json:"country" gorm:"type:varchar(2)"` // ISO 3166-1 alpha-2
	Phone      string `json:"phone,omitempty" gorm:"type:varchar(32)"`
}

// MissingFields returns the json names of required fields that are blank.
func (a Address) MissingFields() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"name", a.Name},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// IsZero reports whether no field of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Order is the durable record produced by checkout.
// Items, amounts, addresses and the shipping method never change after creation.
type Order struct {
	ID              uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID          string          `json:"user_id" gorm:"type:varchar(128);not null;index"`
	Items           []OrderItem     `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Subtotal        decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	ShippingCost    decimal.Decimal `json:"shipping_cost" gorm:"type:numeric(12,2);not null"`
	TaxAmount       decimal.Decimal `json:"tax_amount" gorm:"type:numeric(12,2);not null"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:numeric(12,2);not null"`
	Currency        string          `json:"currency" gorm:"type:varchar(3);not null"`
	Status          OrderStatus     `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentStatus   PaymentStatus   `json:"payment_status" gorm:"type:varchar(20);not null"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty" gorm:"type:varchar(255);uniqueIndex"`
	PaymentMethod   PaymentMethod   `json:"payment_method" gorm:"type:varchar(32);not null"`
	ShippingAddress Address         `json:"shipping_address" gorm:"embedded;embeddedPrefix:shipping_"`
	BillingAddress  Address         `json:"billing_address" gorm:"embedded;embeddedPrefix:billing_"`
	ShippingMethod  ShippingMethod  `json:"shipping_method" gorm:"type:varchar(32);not null"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// OrderItem is one line of an order with the unit price captured at checkout.
type OrderItem struct {
	ID        uuid.UUID       `json:"-" gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_order_items_order_product"`
	ProductID string          `json:"product_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_order_items_order_product"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
}

// BeforeCreate assigns an id when the caller did not.
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// BeforeCreate assigns an id when the caller did not.
func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// LineTotal is unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// HasPaymentIntent reports whether a gateway intent was already assigned.
func (o *Order) HasPaymentIntent() bool {
	return o.PaymentIntentID != nil && *o.PaymentIntentID != ""
}

// IntentID returns the assigned payment intent id or "".
func (o *Order) IntentID() string {
	if o.PaymentIntentID == nil {
		return ""
	}
	return *o.PaymentIntentID
}

// Product is the catalog row checkout reads prices and stock from.
type Product struct {
	ID            string          `json:"id" gorm:"type:varchar(64);primaryKey"`
	Name          string          `json:"name" gorm:"type:varchar(255);not null"`
	Price         decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	StockQuantity int             `json:"stock_quantity" gorm:"not null;check:stock_quantity >= 0"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}
