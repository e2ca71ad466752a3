package services

import (
	"errors"
	"strings"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"
	"checkout-service/repository"

	"github.com/google/uuid"
)

var errNotOwner = errors.New("order belongs to another user")

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.Unauthenticated("Authentication required")
	}
	return nil
}

// mutationError maps what a repository mutation returned onto the error
// taxonomy. Missing and foreign orders are both Forbidden.
func mutationError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}

	var transition *models.TransitionError
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, errNotOwner):
		return apperrors.Forbidden()
	case errors.As(err, &transition):
		return apperrors.InvalidTransition(err)
	case errors.Is(err, repository.ErrIntentAlreadyAssigned):
		return apperrors.InvalidTransition(err)
	default:
		return apperrors.Internal("Failed to update order", err)
	}
}

// ownedBy wraps fn with the ownership check so it runs on the locked row.
func ownedBy(userID string, fn repository.MutateFunc) repository.MutateFunc {
	return func(o *models.Order) (bool, error) {
		if o.UserID != userID {
			return false, errNotOwner
		}
		return fn(o)
	}
}

// ParseOrderID validates an order id taken from a URL.
func ParseOrderID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Validation("Invalid order ID format")
	}
	return id, nil
}
