package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	"checkout-service/models"
	"checkout-service/repository"
	awspkg "checkout-service/pkg/aws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutService turns a cart into an order and a payment intent.
type CheckoutService struct {
	orders    repository.OrderRepository
	catalog   repository.ProductRepository
	gateway   PaymentGateway
	pricing   *Pricing
	publisher OrderEventPublisher
	metrics   Metrics
	logger    *zap.Logger
}

func NewCheckoutService(
	orders repository.OrderRepository,
	catalog repository.ProductRepository,
	gateway PaymentGateway,
	pricing *Pricing,
	publisher OrderEventPublisher,
	metrics Metrics,
	logger *zap.Logger,
) *CheckoutService {
	if publisher == nil {
		publisher = NewBroadcastPublisher(nil, "", nil, "", logger)
	}
	return &CheckoutService{
		orders:    orders,
		catalog:   catalog,
		gateway:   gateway,
		pricing:   pricing,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Checkout validates the cart, persists the order together with the stock
// decrement and initiates payment. When the gateway call fails the order is
// kept unpaid and its id is returned alongside the GatewayError.
func (s *CheckoutService) Checkout(ctx context.Context, userID string, req *models.CheckoutRequest) (*models.CheckoutResult, error) {
	start := time.Now()
	log := logger.For(ctx, s.logger).With(zap.String("user_id", userID))

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apperrors.Validation("Request body is required")
	}

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}
	method, err := models.ParsePaymentMethod(strings.TrimSpace(req.PaymentMethod))
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("Unsupported payment method %q", req.PaymentMethod))
	}
	shippingMethod := models.ShippingMethod(strings.TrimSpace(req.ShippingMethod))
	if _, ok := s.pricing.ShippingCost(shippingMethod); !ok {
		return nil, apperrors.Validation(fmt.Sprintf("Unsupported shipping method %q", req.ShippingMethod))
	}
	if missing := req.ShippingAddress.MissingFields(); len(missing) > 0 {
		return nil, apperrors.Validation("Shipping address is incomplete").With("missing_fields", missing)
	}
	billing := req.ShippingAddress
	if req.BillingAddress != nil && !req.BillingAddress.IsZero() {
		if missing := req.BillingAddress.MissingFields(); len(missing) > 0 {
			return nil, apperrors.Validation("Billing address is incomplete").With("missing_fields", missing)
		}
		billing = *req.BillingAddress
	}

	items, err := s.snapshotLines(ctx, lines)
	if err != nil {
		s.checkoutFailed(ctx, err)
		return nil, err
	}

	quote, err := s.pricing.Quote(items, shippingMethod)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          userID,
		Items:           items,
		Subtotal:        quote.Subtotal,
		ShippingCost:    quote.Shipping,
		TaxAmount:       quote.Tax,
		TotalAmount:     quote.Total,
		Currency:        s.pricing.Currency(),
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusUnpaid,
		PaymentMethod:   method,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		ShippingMethod:  shippingMethod,
	}

	if err := s.orders.CreateWithStock(ctx, order); err != nil {
		err = createError(err)
		s.checkoutFailed(ctx, err)
		return nil, err
	}

	log.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(order.Items)),
	)
	recordCount(ctx, s.metrics, awspkg.MetricOrdersCreated, nil)
	s.publisher.PublishOrderEvent(ctx, models.NewOrderEvent(models.OrderEventCreated, order))

	result, err := s.startPayment(ctx, order)
	recordLatency(ctx, s.metrics, awspkg.MetricCheckoutLatency, time.Since(start))
	return result, err
}

// ResumePayment lets the owner retry payment for an order that is not yet
// paid. An unpaid order gets its first intent; a pending or failed order
// returns the client secret of the intent it already has.
func (s *CheckoutService) ResumePayment(ctx context.Context, userID string, orderID uuid.UUID) (*models.CheckoutResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Forbidden()
		}
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	if order.UserID != userID {
		return nil, apperrors.Forbidden()
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, apperrors.InvalidTransition(&models.TransitionError{
			Field: "payment_status", From: string(order.PaymentStatus), To: string(models.PaymentStatusPending),
			Reason: "order is cancelled",
		})
	}

	switch order.PaymentStatus {
	case models.PaymentStatusUnpaid:
		return s.startPayment(ctx, order)
	case models.PaymentStatusPending, models.PaymentStatusFailed:
		return s.existingIntent(ctx, order)
	default:
		return nil, apperrors.InvalidTransition(&models.TransitionError{
			Field: "payment_status", From: string(order.PaymentStatus), To: string(models.PaymentStatusPending),
			Reason: "order is already paid",
		})
	}
}

// startPayment creates an intent for an unpaid order and assigns it.
func (s *CheckoutService) startPayment(ctx context.Context, order *models.Order) (*models.CheckoutResult, error) {
	log := logger.For(ctx, s.logger).With(zap.String("order_id", order.ID.String()))
	result := checkoutResult(order)

	intent, err := s.gateway.CreatePaymentIntent(ctx, PaymentIntentRequest{
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Method:   order.PaymentMethod,
		Metadata: map[string]string{
			"order_id": order.ID.String(),
			"user_id":  order.UserID,
		},
	})
	if err != nil {
		log.Error("Payment intent creation failed; order left unpaid", zap.Error(err))
		recordCount(ctx, s.metrics, awspkg.MetricCheckoutFailed, map[string]string{"Reason": string(apperrors.KindGateway)})
		return result, apperrors.Gateway("Payment could not be initiated, please retry", err).
			With("order_id", order.ID.String())
	}

	updated, err := s.orders.Mutate(ctx, order.ID, func(o *models.Order) (bool, error) {
		if o.HasPaymentIntent() {
			return false, repository.ErrIntentAlreadyAssigned
		}
		if err := o.ApplyPaymentStatus(models.PaymentStatusPending); err != nil {
			return false, err
		}
		o.PaymentIntentID = &intent.ID
		return true, nil
	})
	if errors.Is(err, repository.ErrIntentAlreadyAssigned) {
		// A concurrent resume won; hand out the intent that stuck.
		log.Warn("Order already has a payment intent; discarding new one", zap.String("payment_intent_id", intent.ID))
		current, findErr := s.orders.FindByID(ctx, order.ID)
		if findErr != nil {
			return result, apperrors.Internal("Failed to fetch order", findErr).With("order_id", order.ID.String())
		}
		return s.existingIntent(ctx, current)
	}
	if err != nil {
		log.Error("Failed to record payment intent on order",
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err),
		)
		return result, mutationError(err)
	}

	log.Info("Payment initiated", zap.String("payment_intent_id", intent.ID))
	s.publisher.PublishOrderEvent(ctx, models.NewOrderEvent(models.OrderEventPaymentStatusChanged, updated))

	result = checkoutResult(updated)
	result.ClientSecret = intent.ClientSecret
	return result, nil
}

func (s *CheckoutService) existingIntent(ctx context.Context, order *models.Order) (*models.CheckoutResult, error) {
	result := checkoutResult(order)
	secret, err := s.gateway.GetClientSecret(ctx, order.IntentID())
	if err != nil {
		return result, apperrors.Gateway("Payment could not be resumed, please retry", err).
			With("order_id", order.ID.String())
	}
	result.ClientSecret = secret
	return result, nil
}

// snapshotLines reads each product once, rejects unknown products and
// obvious shortfalls, and captures the current price.
func (s *CheckoutService) snapshotLines(ctx context.Context, lines []models.CheckoutItem) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, apperrors.Validation(fmt.Sprintf("Unknown product %s", line.ProductID)).With("product_id", line.ProductID)
		}
		if err != nil {
			return nil, apperrors.Internal("Failed to read catalog", err)
		}
		if line.Quantity > product.StockQuantity {
			return nil, apperrors.InsufficientStock(product.ID, product.StockQuantity)
		}
		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
	}
	return items, nil
}

func (s *CheckoutService) checkoutFailed(ctx context.Context, err error) {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInsufficientStock {
		recordCount(ctx, s.metrics, awspkg.MetricInsufficientStock, nil)
	}
	recordCount(ctx, s.metrics, awspkg.MetricCheckoutFailed, map[string]string{"Reason": string(kind)})
}

// maxLineQuantity caps a product's quantity in one order, after repeated
// lines are merged.
const maxLineQuantity = 1000

// mergeLines validates cart lines and folds repeated products into one line.
func mergeLines(items []models.CheckoutItem) ([]models.CheckoutItem, error) {
	if len(items) == 0 {
		return nil, apperrors.Validation("Cart is empty")
	}

	index := make(map[string]int, len(items))
	merged := make([]models.CheckoutItem, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, apperrors.Validation("Every item needs a product_id")
		}
		if item.Quantity <= 0 {
			return nil, apperrors.Validation(fmt.Sprintf("Quantity for product %s must be positive", id)).With("product_id", id)
		}
		if item.Quantity > maxLineQuantity {
			return nil, quantityTooLarge(id)
		}
		if i, ok := index[id]; ok {
			if merged[i].Quantity > maxLineQuantity-item.Quantity {
				return nil, quantityTooLarge(id)
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, models.CheckoutItem{ProductID: id, Quantity: item.Quantity})
	}
	return merged, nil
}

func quantityTooLarge(productID string) error {
	return apperrors.Validation(fmt.Sprintf("Quantity for product %s exceeds %d", productID, maxLineQuantity)).
		With("product_id", productID).
		With("max_quantity", maxLineQuantity)
}

func createError(err error) error {
	var shortfall *repository.InsufficientStockError
	switch {
	case errors.As(err, &shortfall):
		return apperrors.InsufficientStock(shortfall.ProductID, shortfall.Available)
	case errors.Is(err, repository.ErrProductNotFound):
		return apperrors.Validation("Cart references a product that no longer exists")
	case errors.Is(err, repository.ErrTooManyLines):
		return apperrors.Validation("Cart has too many distinct products")
	default:
		return apperrors.Internal("Failed to create order", err)
	}
}

func checkoutResult(o *models.Order) *models.CheckoutResult {
	return &models.CheckoutResult{
		OrderID:         o.ID,
		PaymentIntentID: o.IntentID(),
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		PaymentStatus:   o.PaymentStatus,
	}
}
