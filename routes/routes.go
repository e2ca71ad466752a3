package routes

import (
	"net/http"

	commonmw "checkout-service/common/middleware"
	"checkout-service/controllers"

	"github.com/gin-gonic/gin"
)

// Handlers bundles what the router needs.
type Handlers struct {
	Checkout *controllers.CheckoutController
	Orders   *controllers.OrderController
	Webhook  *controllers.WebhookController
	// Auth resolves the caller on every user route.
	Auth gin.HandlerFunc
	// CheckoutPerMinute limits POST /checkout per caller; zero disables it.
	CheckoutPerMinute int
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Stripe webhook (no auth, signature verified by the reconciler)
	r.POST("/stripe/webhook", h.Webhook.StripeWebhook)

	checkout := []gin.HandlerFunc{h.Auth}
	if h.CheckoutPerMinute > 0 {
		checkout = append(checkout, commonmw.RateLimitMiddleware(h.CheckoutPerMinute, h.CheckoutPerMinute))
	}
	r.POST("/checkout", append(checkout, h.Checkout.Checkout)...)

	orders := r.Group("/orders")
	orders.Use(h.Auth)
	orders.GET("", h.Orders.GetOrders)
	orders.GET("/:id", h.Orders.GetOrderByID)
	orders.GET("/:id/payment-status", h.Orders.GetPaymentStatus)
	orders.PUT("/:id/payment-status", h.Orders.UpdatePaymentStatus)
	orders.GET("/:id/status", h.Orders.GetStatus)
	orders.PUT("/:id/status", h.Orders.UpdateStatus)
	orders.POST("/:id/cancel", h.Orders.CancelOrder)
	orders.POST("/:id/payment", h.Checkout.ResumePayment)
}
