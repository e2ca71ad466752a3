package models

// OrderStatus is the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus is the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:  {PaymentStatusPending},
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed:  {PaymentStatusPaid},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// Every live status may be cancelled; cancelled is terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {OrderStatusCancelled},
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is an edge of the payment state machine.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is an edge of the fulfillment state machine.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckPaymentTransition validates a payment status change against the state machine.
func (o *Order) CheckPaymentTransition(next PaymentStatus) error {
	if !next.Valid() || !o.PaymentStatus.CanTransitionTo(next) {
		return &TransitionError{Field: "payment_status", From: string(o.PaymentStatus), To: string(next)}
	}
	return nil
}

// CheckStatusTransition validates a fulfillment status change. Moving to
// processing additionally requires the order to be paid.
func (o *Order) CheckStatusTransition(next OrderStatus) error {
	if !next.Valid() || !o.Status.CanTransitionTo(next) {
		return &TransitionError{Field: "status", From: string(o.Status), To: string(next)}
	}
	if next == OrderStatusProcessing && o.PaymentStatus != PaymentStatusPaid {
		return &TransitionError{
			Field:  "status",
			From:   string(o.Status),
			To:     string(next),
			Reason: "order is not paid",
		}
	}
	return nil
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	Field  string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := "invalid " + e.Field + " transition from " + e.From + " to " + e.To
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ApplyPaymentStatus moves the order to next and, when it becomes paid while
// still pending fulfillment, starts processing.
func (o *Order) ApplyPaymentStatus(next PaymentStatus) error {
	if err := o.CheckPaymentTransition(next); err != nil {
		return err
	}
	o.PaymentStatus = next
	if next == PaymentStatusPaid && o.Status == OrderStatusPending {
		o.Status = OrderStatusProcessing
	}
	return nil
}
