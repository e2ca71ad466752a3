package services

import (
	"context"
	"errors"

	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	"checkout-service/models"
	"checkout-service/repository"
	awspkg "checkout-service/pkg/aws"

	"go.uber.org/zap"
)

// Reconciler applies payment gateway events to orders. It is the trusted
// system path: there is no ownership check, so nothing is mutated before the
// event's signature has been verified.
type Reconciler struct {
	verifier  EventVerifier
	orders    repository.OrderRepository
	ledger    EventLedger
	publisher OrderEventPublisher
	metrics   Metrics
	logger    *zap.Logger
}

func NewReconciler(
	verifier EventVerifier,
	orders repository.OrderRepository,
	ledger EventLedger,
	publisher OrderEventPublisher,
	metrics Metrics,
	logger *zap.Logger,
) *Reconciler {
	if ledger == nil {
		ledger = NopEventLedger{}
	}
	if publisher == nil {
		publisher = NewBroadcastPublisher(nil, "", nil, "", logger)
	}
	return &Reconciler{
		verifier:  verifier,
		orders:    orders,
		ledger:    ledger,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleGatewayEvent verifies a raw webhook delivery and then applies it.
// Unknown intents and stale or repeated events are absorbed and return nil;
// only signature failures and storage errors are returned.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	log := logger.For(ctx, r.logger)

	event, err := r.verifier.VerifyEvent(payload, signatureHeader)
	if err != nil {
		log.Warn("Rejected gateway event", zap.Error(err))
		recordCount(ctx, r.metrics, awspkg.MetricWebhookRejected, nil)
		return err
	}
	recordCount(ctx, r.metrics, awspkg.MetricWebhookEvents, map[string]string{"Type": string(event.Type)})

	return r.apply(ctx, event)
}

func (r *Reconciler) apply(ctx context.Context, event *models.GatewayEvent) error {
	log := logger.For(ctx, r.logger).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("payment_intent_id", event.PaymentIntentID),
	)

	next, ok := targetPaymentStatus(event)
	if !ok {
		log.Debug("Ignoring gateway event")
		return nil
	}
	if event.PaymentIntentID == "" {
		log.Warn("Gateway event has no payment intent; dropping")
		return nil
	}

	if event.ID != "" {
		seen, err := r.ledger.Seen(ctx, event.ID)
		if err != nil {
			log.Warn("Event ledger unavailable; relying on state checks", zap.Error(err))
		} else if seen {
			log.Info("Skipping already processed gateway event")
			recordCount(ctx, r.metrics, awspkg.MetricWebhookDuplicates, nil)
			return nil
		}
	}

	var from models.PaymentStatus
	changed := false
	order, err := r.orders.MutateByPaymentIntent(ctx, event.PaymentIntentID, func(o *models.Order) (bool, error) {
		from, changed = o.PaymentStatus, false
		if o.PaymentStatus == next || !o.PaymentStatus.CanTransitionTo(next) {
			// repeated or out of order
			return false, nil
		}
		if err := o.ApplyPaymentStatus(next); err != nil {
			return false, err
		}
		changed = true
		return true, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		// The intent may have been created by a checkout that never recorded it.
		log.Warn("No order for payment intent; dropping event")
		return nil
	}
	if err != nil {
		log.Error("Failed to apply gateway event", zap.Error(err))
		return apperrors.Internal("Failed to apply gateway event", err)
	}

	if event.ID != "" {
		if err := r.ledger.MarkProcessed(ctx, event.ID); err != nil {
			log.Warn("Failed to record processed gateway event", zap.Error(err))
		}
	}

	if !changed {
		log.Info("Gateway event left order unchanged",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_status", string(from)),
		)
		return nil
	}

	log.Info("Payment status reconciled",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(order.PaymentStatus)),
		zap.String("status", string(order.Status)),
	)
	r.recordOutcome(ctx, next)
	r.publisher.PublishOrderEvent(ctx, models.NewOrderEvent(models.OrderEventPaymentStatusChanged, order))
	return nil
}

func (r *Reconciler) recordOutcome(ctx context.Context, status models.PaymentStatus) {
	switch status {
	case models.PaymentStatusPaid:
		recordCount(ctx, r.metrics, awspkg.MetricPaymentSucceeded, nil)
	case models.PaymentStatusFailed:
		recordCount(ctx, r.metrics, awspkg.MetricPaymentFailed, nil)
	case models.PaymentStatusRefunded:
		recordCount(ctx, r.metrics, awspkg.MetricPaymentRefunded, nil)
	}
}

// targetPaymentStatus maps an event to the payment status it asks for.
// Partial refunds are not a state change.
func targetPaymentStatus(event *models.GatewayEvent) (models.PaymentStatus, bool) {
	switch event.Type {
	case models.GatewayEventPaymentSucceeded:
		return models.PaymentStatusPaid, true
	case models.GatewayEventPaymentFailed:
		return models.PaymentStatusFailed, true
	case models.GatewayEventChargeRefunded:
		return models.PaymentStatusRefunded, event.Refunded
	}
	return "", false
}
