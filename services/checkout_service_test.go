package services_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"
	"checkout-service/repository"
	"checkout-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutFixture struct {
	store     *memStore
	gateway   *fakeGateway
	publisher *recordingPublisher
	svc       *services.CheckoutService
}

func newCheckoutFixture(products ...models.Product) *checkoutFixture {
	f := &checkoutFixture{
		store:     newMemStore(products...),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
	}
	f.svc = services.NewCheckoutService(f.store, f.store, f.gateway, testPricing(), f.publisher, nil, testLogger())
	return f
}

func TestCheckout_CreatesOrderAndStartsPayment(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))

	res, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(models.CheckoutItem{ProductID: "sku-1", Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPending, res.PaymentStatus)
	assert.Equal(t, "pi_1", res.PaymentIntentID)
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	// 20.00 + 5.99 standard shipping + 10% tax on 20.00
	assert.True(t, decimal.RequireFromString("27.99").Equal(res.TotalAmount), res.TotalAmount.String())

	order := f.store.get(res.OrderID)
	require.NotNil(t, order)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "pi_1", order.IntentID())
	assert.True(t, decimal.RequireFromString("20").Equal(order.Subtotal))
	assert.True(t, decimal.RequireFromString("2").Equal(order.TaxAmount))
	assert.Equal(t, address(), order.BillingAddress)
	assert.Equal(t, 3, f.store.stock("sku-1"))

	require.Equal(t, 1, f.gateway.calls())
	req := f.gateway.requests[0]
	assert.Equal(t, res.OrderID.String(), req.Metadata["order_id"])
	assert.Equal(t, "user-1", req.Metadata["user_id"])
	assert.True(t, order.TotalAmount.Equal(req.Amount))

	assert.Equal(t, []string{models.OrderEventCreated, models.OrderEventPaymentStatusChanged}, f.publisher.types())
}

func TestCheckout_InsufficientStock(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 1))

	_, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(models.CheckoutItem{ProductID: "sku-1", Quantity: 2}))
	require.Error(t, err)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInsufficientStock, appErr.Kind)
	assert.Equal(t, "sku-1", appErr.Details["product_id"])
	assert.Equal(t, 1, appErr.Details["available"])
	assert.Equal(t, 0, f.store.count())
	assert.Equal(t, 1, f.store.stock("sku-1"))
	assert.Zero(t, f.gateway.calls())
}

func TestCheckout_OneShortLineCreatesNothing(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5), product("sku-2", "3.00", 0))

	_, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(
		models.CheckoutItem{ProductID: "sku-1", Quantity: 1},
		models.CheckoutItem{ProductID: "sku-2", Quantity: 1},
	))

	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientStock))
	assert.Equal(t, 0, f.store.count())
	assert.Equal(t, 5, f.store.stock("sku-1"))
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))

	_, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest())

	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.Equal(t, 0, f.store.count())
	assert.Zero(t, f.gateway.calls())
}

func TestCheckout_RequiresUser(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))

	_, err := f.svc.Checkout(context.Background(), "", checkoutRequest(models.CheckoutItem{ProductID: "sku-1", Quantity: 1}))
	assert.True(t, apperrors.Is(err, apperrors.KindUnauthenticated))
	assert.Equal(t, 0, f.store.count())
}

func TestCheckout_ValidationFailures(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))
	item := models.CheckoutItem{ProductID: "sku-1", Quantity: 1}

	cases := map[string]func(r *models.CheckoutRequest){
		"zero quantity":    func(r *models.CheckoutRequest) { r.Items[0].Quantity = 0 },
		"blank product":    func(r *models.CheckoutRequest) { r.Items[0].ProductID = " " },
		"unknown product":  func(r *models.CheckoutRequest) { r.Items[0].ProductID = "sku-404" },
		"payment method":   func(r *models.CheckoutRequest) { r.PaymentMethod = "paypal_express" },
		"shipping method":  func(r *models.CheckoutRequest) { r.ShippingMethod = "teleport" },
		"shipping address": func(r *models.CheckoutRequest) { r.ShippingAddress.City = "" },
		"partial billing":  func(r *models.CheckoutRequest) { r.BillingAddress = &models.Address{Name: "x"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := checkoutRequest(item)
			mutate(req)
			_, err := f.svc.Checkout(context.Background(), "user-1", req)
			assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.store.count())
	assert.Zero(t, f.gateway.calls())
}

func TestCheckout_MergesRepeatedProducts(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))

	res, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(
		models.CheckoutItem{ProductID: "sku-1", Quantity: 1},
		models.CheckoutItem{ProductID: "sku-1", Quantity: 2},
	))
	require.NoError(t, err)

	order := f.store.get(res.OrderID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 2, f.store.stock("sku-1"))
}

func TestCheckout_RejectsOversizedQuantities(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))

	cases := map[string][]models.CheckoutItem{
		"merged lines wrap int": {
			{ProductID: "sku-1", Quantity: math.MaxInt},
			{ProductID: "sku-1", Quantity: 2},
		},
		"merged lines exceed cap": {
			{ProductID: "sku-1", Quantity: 600},
			{ProductID: "sku-1", Quantity: 600},
		},
		"single line exceeds cap": {
			{ProductID: "sku-1", Quantity: 1001},
		},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(items...))

			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr), "got %v", err)
			assert.Equal(t, apperrors.KindValidation, appErr.Kind)
			assert.Equal(t, "sku-1", appErr.Details["product_id"])
		})
	}
	assert.Equal(t, 0, f.store.count())
	assert.Equal(t, 5, f.store.stock("sku-1"))
	assert.Zero(t, f.gateway.calls())
}

func TestCheckout_TooManyLinesIsValidation(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))
	f.store.createErr = fmt.Errorf("%w: 100 lines, at most 99 supported", repository.ErrTooManyLines)

	_, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(models.CheckoutItem{ProductID: "sku-1", Quantity: 1}))

	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)
	assert.Zero(t, f.gateway.calls())
}

func TestCheckout_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	const stock, buyers = 10, 25
	f := newCheckoutFixture(product("sku-1", "10.00", stock))

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(models.CheckoutItem{ProductID: "sku-1", Quantity: 1}))
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			} else {
				assert.True(t, apperrors.Is(err, apperrors.KindInsufficientStock), "unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, sold)
	assert.Equal(t, 0, f.store.stock("sku-1"))
	assert.Equal(t, stock, f.store.count())
}

func TestCheckout_PriceIsSnapshotted(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))

	res, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(models.CheckoutItem{ProductID: "sku-1", Quantity: 2}))
	require.NoError(t, err)

	f.store.setPrice("sku-1", "99.00")

	order := f.store.get(res.OrderID)
	assert.True(t, decimal.RequireFromString("10").Equal(order.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("27.99").Equal(order.TotalAmount))
}

func TestCheckout_GatewayFailureKeepsUnpaidOrder(t *testing.T) {
	f := newCheckoutFixture(product("sku-1", "10.00", 5))
	f.gateway.createErr = errors.New("stripe: connection reset")

	res, err := f.svc.Checkout(context.Background(), "user-1", checkoutRequest(models.CheckoutItem{ProductID: "sku-1", Quantity: 1}))

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindGateway, appErr.Kind)
	require.NotNil(t, res)
	assert.Equal(t, res.OrderID.String(), appErr.Details["order_id"])

	order := f.store.get(res.OrderID)
	require.NotNil(t, order)
	assert.Equal(t, models.PaymentStatusUnpaid, order.PaymentStatus)
	assert.False(t, order.HasPaymentIntent())
	assert.Equal(t, 4, f.store.stock("sku-1"))

	// the customer retries payment against the same order
	f.gateway.createErr = nil
	resumed, err := f.svc.ResumePayment(context.Background(), "user-1", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, resumed.PaymentStatus)
	assert.Equal(t, "pi_1", f.store.get(res.OrderID).IntentID())
}

func TestResumePayment_ReusesExistingIntent(t *testing.T) {
	f := newCheckoutFixture()
	order := seedOrder(f.store, "user-1", models.OrderStatusPending, models.PaymentStatusFailed, "pi_old")

	res, err := f.svc.ResumePayment(context.Background(), "user-1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_old", res.PaymentIntentID)
	assert.Equal(t, "pi_old_secret", res.ClientSecret)
	assert.Zero(t, f.gateway.calls())
}

func TestResumePayment_Rejections(t *testing.T) {
	f := newCheckoutFixture()
	paid := seedOrder(f.store, "user-1", models.OrderStatusProcessing, models.PaymentStatusPaid, "pi_paid")
	cancelled := seedOrder(f.store, "user-1", models.OrderStatusCancelled, models.PaymentStatusUnpaid, "")

	_, err := f.svc.ResumePayment(context.Background(), "user-1", paid.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition))

	_, err = f.svc.ResumePayment(context.Background(), "user-1", cancelled.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition))

	_, err = f.svc.ResumePayment(context.Background(), "user-2", paid.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	_, err = f.svc.ResumePayment(context.Background(), "user-1", uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))
}
