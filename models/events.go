package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GatewayEventType is a payment gateway webhook event the reconciler acts on.
type GatewayEventType string

const (
	GatewayEventPaymentSucceeded GatewayEventType = "payment_intent.succeeded"
	GatewayEventPaymentFailed    GatewayEventType = "payment_intent.payment_failed"
	GatewayEventChargeRefunded   GatewayEventType = "charge.refunded"
)

// GatewayEvent is a verified gateway event reduced to what reconciliation needs.
type GatewayEvent struct {
	ID              string           `json:"id"`
	Type            GatewayEventType `json:"type"`
	PaymentIntentID string           `json:"payment_intent_id"`
	Status          string           `json:"status"`
	// Refunded is only meaningful for charge events; partial refunds leave it false.
	Refunded bool `json:"refunded,omitempty"`
}

// GatewayEnvelope carries a raw webhook body and its signature header through a queue.
type GatewayEnvelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Order lifecycle event types.
const (
	OrderEventCreated              = "order.created"
	OrderEventPaymentStatusChanged = "order.payment_status_changed"
	OrderEventStatusChanged        = "order.status_changed"
)

// OrderEvent is published to SNS and Kafka whenever an order changes.
type OrderEvent struct {
	Type            string          `json:"type"`
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewOrderEvent snapshots an order into an event of the given type.
func NewOrderEvent(eventType string, o *Order) OrderEvent {
	return OrderEvent{
		Type:            eventType,
		OrderID:         o.ID.String(),
		UserID:          o.UserID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		PaymentIntentID: o.IntentID(),
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		Timestamp:       time.Now().UTC(),
	}
}
