package services

import (
	"context"
	"encoding/json"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"
	awspkg "checkout-service/pkg/aws"

	"go.uber.org/zap"
)

// GatewayEventHandler is implemented by Reconciler.
type GatewayEventHandler interface {
	HandleGatewayEvent(ctx context.Context, payload []byte, signatureHeader string) error
}

// GatewayEventConsumer applies webhook deliveries relayed through SQS. The
// message body is a models.GatewayEnvelope, optionally wrapped by SNS.
type GatewayEventConsumer struct {
	handler GatewayEventHandler
	logger  *zap.Logger
}

func NewGatewayEventConsumer(handler GatewayEventHandler, logger *zap.Logger) *GatewayEventConsumer {
	return &GatewayEventConsumer{handler: handler, logger: logger}
}

// HandleMessage is an awspkg.MessageHandler. Malformed and unverifiable
// messages return nil so they are deleted; storage errors are returned so
// the message is redelivered.
func (c *GatewayEventConsumer) HandleMessage(ctx context.Context, body string) error {
	var snsEnvelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &snsEnvelope); err == nil && snsEnvelope.Type == "Notification" && snsEnvelope.Message != "" {
		body = snsEnvelope.Message
	}

	var envelope models.GatewayEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		c.logger.Error("Invalid gateway envelope JSON; dropping", zap.Error(err))
		return nil
	}
	if envelope.Payload == "" || envelope.Signature == "" {
		c.logger.Error("Gateway envelope missing payload or signature; dropping")
		return nil
	}

	err := c.handler.HandleGatewayEvent(ctx, []byte(envelope.Payload), envelope.Signature)
	switch {
	case err == nil:
		return nil
	case apperrors.Is(err, apperrors.KindSignatureInvalid), apperrors.Is(err, apperrors.KindValidation):
		c.logger.Warn("Dropping unverifiable gateway event", zap.Error(err))
		return nil
	default:
		return err
	}
}

// Poller is implemented by awspkg.SQSConsumer.
type Poller interface {
	StartPolling(ctx context.Context, handler awspkg.MessageHandler) error
}

// Start polls until ctx is cancelled.
func (c *GatewayEventConsumer) Start(ctx context.Context, poller Poller) {
	c.logger.Info("Starting gateway events queue consumer")
	if err := poller.StartPolling(ctx, c.HandleMessage); err != nil && ctx.Err() == nil {
		c.logger.Error("Gateway events polling stopped", zap.Error(err))
	}
}
