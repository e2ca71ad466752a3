package repository

import (
	"errors"
	"fmt"
	"sort"

	"checkout-service/models"
)

var (
	ErrNotFound              = errors.New("record not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrIntentAlreadyAssigned = errors.New("payment intent already assigned")
	ErrImmutableField        = errors.New("attempt to change an immutable order field")
	ErrTooManyLines          = errors.New("order has too many lines")
)

// InsufficientStockError is returned when the stock guard rejects a line item.
// No part of the order has been written when it is returned.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available", e.ProductID, e.Available)
}

// MutateFunc applies a change to a locked order. It reports whether anything
// changed; returning false (or an error) skips the write.
type MutateFunc func(order *models.Order) (bool, error)

// sortedLines returns the order's items ordered by product id so concurrent
// checkouts touch product rows in the same order.
func sortedLines(items []models.OrderItem) []models.OrderItem {
	lines := make([]models.OrderItem, len(items))
	copy(lines, items)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// checkMutation enforces the fields a mutation may not touch.
func checkMutation(before, after *models.Order) error {
	if before.ID != after.ID || before.UserID != after.UserID || !before.TotalAmount.Equal(after.TotalAmount) {
		return ErrImmutableField
	}
	if before.HasPaymentIntent() && after.IntentID() != before.IntentID() {
		return ErrIntentAlreadyAssigned
	}
	return nil
}

// snapshot copies the parts of an order checkMutation compares.
func snapshot(o *models.Order) models.Order {
	s := *o
	if o.PaymentIntentID != nil {
		id := *o.PaymentIntentID
		s.PaymentIntentID = &id
	}
	return s
}
