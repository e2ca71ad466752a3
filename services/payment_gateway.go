package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

// PaymentIntent is the gateway-side transaction an order is paid through.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// PaymentIntentRequest describes the intent to create for an order.
type PaymentIntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Method   models.PaymentMethod
	Metadata map[string]string
}

// PaymentGateway is the request side and the event side of the payment processor.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	GetClientSecret(ctx context.Context, intentID string) (string, error)
	EventVerifier
}

// EventVerifier authenticates a webhook payload and decodes it.
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (*models.GatewayEvent, error)
}

// intentStrategy configures an intent for one payment method.
type intentStrategy func(params *stripe.PaymentIntentParams)

var intentStrategies = map[models.PaymentMethod]intentStrategy{
	models.PaymentMethodCard: func(params *stripe.PaymentIntentParams) {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				RequestThreeDSecure: stripe.String("automatic"),
			},
		}
	},
	models.PaymentMethodLink: func(params *stripe.PaymentIntentParams) {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"link", "card"})
	},
	models.PaymentMethodUSBankAccount: func(params *stripe.PaymentIntentParams) {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"us_bank_account"})
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			USBankAccount: &stripe.PaymentIntentPaymentMethodOptionsUSBankAccountParams{
				VerificationMethod: stripe.String("automatic"),
			},
		}
	},
}

// StripeGateway implements PaymentGateway with the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

func NewStripeGateway(apiKey, webhookSecret string, logger *zap.Logger) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret, logger: logger}
}

// ToMinorUnits converts a decimal amount to integer cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	strategy, ok := intentStrategies[req.Method]
	if !ok {
		return nil, fmt.Errorf("no payment strategy for method %q", req.Method)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	strategy(params)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}

	g.logger.Info("Payment intent created",
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount", pi.Amount),
		zap.String("order_id", req.Metadata["order_id"]),
	)
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) GetClientSecret(ctx context.Context, intentID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return "", fmt.Errorf("stripe get payment intent %s: %w", intentID, err)
	}
	return pi.ClientSecret, nil
}

// VerifyEvent checks the Stripe-Signature header against the endpoint secret
// before looking at the payload.
func (g *StripeGateway) VerifyEvent(payload []byte, signatureHeader string) (*models.GatewayEvent, error) {
	if g.webhookSecret == "" {
		return nil, apperrors.SignatureInvalid(fmt.Errorf("webhook secret not configured"))
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperrors.SignatureInvalid(err)
	}
	return decodeStripeEvent(event)
}

func decodeStripeEvent(event stripe.Event) (*models.GatewayEvent, error) {
	out := &models.GatewayEvent{ID: event.ID, Type: models.GatewayEventType(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, apperrors.Validation("Malformed payment intent payload")
		}
		out.PaymentIntentID = pi.ID
		out.Status = string(pi.Status)
	case stripe.EventTypeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, apperrors.Validation("Malformed charge payload")
		}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		out.Status = string(ch.Status)
		out.Refunded = ch.Refunded
	}
	return out, nil
}
