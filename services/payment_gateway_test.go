package services

import (
	"testing"
	"time"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header
}

func TestVerifyEvent_PaymentIntentSucceeded(t *testing.T) {
	g := NewStripeGateway("sk_test_123", testWebhookSecret, zap.NewNop())
	payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`

	event, err := g.VerifyEvent([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, models.GatewayEventPaymentSucceeded, event.Type)
	assert.Equal(t, "pi_1", event.PaymentIntentID)
	assert.Equal(t, "succeeded", event.Status)
}

func TestVerifyEvent_ChargeRefunded(t *testing.T) {
	g := NewStripeGateway("sk_test_123", testWebhookSecret, zap.NewNop())
	payload := `{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_7","refunded":true,"status":"succeeded"}}}`

	event, err := g.VerifyEvent([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	assert.Equal(t, models.GatewayEventChargeRefunded, event.Type)
	assert.Equal(t, "pi_7", event.PaymentIntentID)
	assert.True(t, event.Refunded)
}

func TestVerifyEvent_RejectsTamperedPayload(t *testing.T) {
	g := NewStripeGateway("sk_test_123", testWebhookSecret, zap.NewNop())
	payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`
	header := signed(t, payload)

	tampered := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_2","object":"payment_intent"}}}`
	_, err := g.VerifyEvent([]byte(tampered), header)
	assert.True(t, apperrors.Is(err, apperrors.KindSignatureInvalid))

	_, err = g.VerifyEvent([]byte(payload), "")
	assert.True(t, apperrors.Is(err, apperrors.KindSignatureInvalid))

	unconfigured := NewStripeGateway("sk_test_123", "", zap.NewNop())
	_, err = unconfigured.VerifyEvent([]byte(payload), header)
	assert.True(t, apperrors.Is(err, apperrors.KindSignatureInvalid))
}

func TestVerifyEvent_UnhandledTypePassesThrough(t *testing.T) {
	g := NewStripeGateway("sk_test_123", testWebhookSecret, zap.NewNop())
	payload := `{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`

	event, err := g.VerifyEvent([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	assert.Equal(t, models.GatewayEventType("customer.created"), event.Type)
	assert.Empty(t, event.PaymentIntentID)
}

func TestIntentStrategies_CoverEveryMethod(t *testing.T) {
	for _, m := range models.SupportedPaymentMethods {
		strategy, ok := intentStrategies[m]
		require.True(t, ok, "no strategy for %s", m)

		params := &stripe.PaymentIntentParams{}
		strategy(params)
		assert.NotEmpty(t, params.PaymentMethodTypes, m)
	}

	params := &stripe.PaymentIntentParams{}
	intentStrategies[models.PaymentMethodCard](params)
	assert.Equal(t, "automatic", *params.PaymentMethodOptions.Card.RequestThreeDSecure)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(2799), ToMinorUnits(decimal.RequireFromString("27.99")))
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.RequireFromString("10")))
	assert.Equal(t, int64(1), ToMinorUnits(decimal.RequireFromString("0.005")))
}
