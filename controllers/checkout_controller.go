package controllers

import (
	"context"
	"net/http"

	apperrors "checkout-service/common/errors"
	"checkout-service/middleware"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Checkouter is implemented by services.CheckoutService.
type Checkouter interface {
	Checkout(ctx context.Context, userID string, req *models.CheckoutRequest) (*models.CheckoutResult, error)
	ResumePayment(ctx context.Context, userID string, orderID uuid.UUID) (*models.CheckoutResult, error)
}

type CheckoutController struct {
	checkout Checkouter
}

func NewCheckoutController(checkout Checkouter) *CheckoutController {
	return &CheckoutController{checkout: checkout}
}

// Checkout turns the submitted cart into an order and starts its payment.
func (cc *CheckoutController) Checkout(ctx *gin.Context) {
	var req models.CheckoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.Validation("Invalid request body"))
		return
	}

	result, err := cc.checkout.Checkout(ctx.Request.Context(), middleware.GetUserID(ctx), &req)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusCreated, result)
}

// ResumePayment returns a client secret for an order whose payment has not completed.
func (cc *CheckoutController) ResumePayment(ctx *gin.Context) {
	orderID, err := services.ParseOrderID(ctx.Param("id"))
	if err != nil {
		ctx.Error(err)
		return
	}

	result, err := cc.checkout.ResumePayment(ctx.Request.Context(), middleware.GetUserID(ctx), orderID)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}
