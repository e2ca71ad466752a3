package services

import (
	"context"
	"errors"

	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	"checkout-service/models"
	"checkout-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

// OrderStatusService is the owner-facing read and update surface for an
// order's status and payment_status. Every operation requires the caller to
// own the order; callers that do not (including for orders that do not
// exist) get Forbidden.
type OrderStatusService struct {
	orders    repository.OrderRepository
	publisher OrderEventPublisher
	logger    *zap.Logger
}

func NewOrderStatusService(orders repository.OrderRepository, publisher OrderEventPublisher, logger *zap.Logger) *OrderStatusService {
	if publisher == nil {
		publisher = NewBroadcastPublisher(nil, "", nil, "", logger)
	}
	return &OrderStatusService{orders: orders, publisher: publisher, logger: logger}
}

func (s *OrderStatusService) GetOrder(ctx context.Context, userID string, orderID uuid.UUID) (*models.Order, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Forbidden()
		}
		logger.For(ctx, s.logger).Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	if order.UserID != userID {
		return nil, apperrors.Forbidden()
	}
	return order, nil
}

// ListOrders returns one page of the caller's orders, newest first.
func (s *OrderStatusService) ListOrders(ctx context.Context, userID string, page, limit int) (*OrderResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	orders, total, err := s.orders.FindByUserID(ctx, userID, page, limit)
	if err != nil {
		logger.For(ctx, s.logger).Error("Failed to fetch orders", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}

	return &OrderResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}, nil
}

func (s *OrderStatusService) GetPaymentStatus(ctx context.Context, orderID uuid.UUID, userID string) (models.PaymentStatus, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return "", err
	}
	return order.PaymentStatus, nil
}

func (s *OrderStatusService) GetStatus(ctx context.Context, orderID uuid.UUID, userID string) (models.OrderStatus, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// UpdatePaymentStatus applies a payment_status transition. Becoming paid
// also moves a pending order to processing.
func (s *OrderStatusService) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, userID string, next models.PaymentStatus) (*models.Order, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if !next.Valid() {
		return nil, apperrors.Validation("Unknown payment status " + string(next))
	}

	order, err := s.orders.Mutate(ctx, orderID, ownedBy(userID, func(o *models.Order) (bool, error) {
		if err := o.ApplyPaymentStatus(next); err != nil {
			return false, err
		}
		return true, nil
	}))
	if err != nil {
		return nil, s.logMutationError(ctx, orderID, err)
	}

	logger.For(ctx, s.logger).Info("Payment status updated",
		zap.String("order_id", orderID.String()),
		zap.String("payment_status", string(order.PaymentStatus)),
	)
	s.publisher.PublishOrderEvent(ctx, models.NewOrderEvent(models.OrderEventPaymentStatusChanged, order))
	return order, nil
}

// UpdateStatus applies a fulfillment status transition.
func (s *OrderStatusService) UpdateStatus(ctx context.Context, orderID uuid.UUID, userID string, next models.OrderStatus) (*models.Order, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if !next.Valid() {
		return nil, apperrors.Validation("Unknown order status " + string(next))
	}

	order, err := s.orders.Mutate(ctx, orderID, ownedBy(userID, func(o *models.Order) (bool, error) {
		if err := o.CheckStatusTransition(next); err != nil {
			return false, err
		}
		o.Status = next
		return true, nil
	}))
	if err != nil {
		return nil, s.logMutationError(ctx, orderID, err)
	}

	logger.For(ctx, s.logger).Info("Order status updated",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(order.Status)),
	)
	s.publisher.PublishOrderEvent(ctx, models.NewOrderEvent(models.OrderEventStatusChanged, order))
	return order, nil
}

func (s *OrderStatusService) Cancel(ctx context.Context, orderID uuid.UUID, userID string) (*models.Order, error) {
	return s.UpdateStatus(ctx, orderID, userID, models.OrderStatusCancelled)
}

func (s *OrderStatusService) logMutationError(ctx context.Context, orderID uuid.UUID, err error) error {
	mapped := mutationError(err)
	if apperrors.Is(mapped, apperrors.KindInternal) {
		logger.For(ctx, s.logger).Error("Failed to update order", zap.String("order_id", orderID.String()), zap.Error(err))
	}
	return mapped
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
