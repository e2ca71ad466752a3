package controllers

import (
	"context"
	"io"
	"net/http"

	apperrors "checkout-service/common/errors"

	"github.com/gin-gonic/gin"
)

// Upper bound on a webhook body; Stripe payloads are far smaller.
const maxWebhookBody = 65536

// GatewayEventHandler is implemented by services.Reconciler.
type GatewayEventHandler interface {
	HandleGatewayEvent(ctx context.Context, payload []byte, signatureHeader string) error
}

type WebhookController struct {
	handler GatewayEventHandler
}

func NewWebhookController(handler GatewayEventHandler) *WebhookController {
	return &WebhookController{handler: handler}
}

// StripeWebhook verifies and applies a Stripe webhook event. The body must be
// read raw; re-encoding it would break the signature.
func (wc *WebhookController) StripeWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		ctx.Error(apperrors.Validation("Unable to read request body"))
		return
	}

	if err := wc.handler.HandleGatewayEvent(ctx.Request.Context(), payload, ctx.GetHeader("Stripe-Signature")); err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "received"})
}
