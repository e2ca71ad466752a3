package controllers

import (
	"context"
	"net/http"
	"strconv"

	apperrors "checkout-service/common/errors"
	"checkout-service/middleware"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OrderStatuses is implemented by services.OrderStatusService.
type OrderStatuses interface {
	GetOrder(ctx context.Context, userID string, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID string, page, limit int) (*services.OrderResponse, error)
	GetPaymentStatus(ctx context.Context, orderID uuid.UUID, userID string) (models.PaymentStatus, error)
	GetStatus(ctx context.Context, orderID uuid.UUID, userID string) (models.OrderStatus, error)
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, userID string, next models.PaymentStatus) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, userID string, next models.OrderStatus) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, userID string) (*models.Order, error)
}

type OrderController struct {
	orders OrderStatuses
}

func NewOrderController(orders OrderStatuses) *OrderController {
	return &OrderController{orders: orders}
}

type paymentStatusRequest struct {
	PaymentStatus models.PaymentStatus `json:"payment_status" binding:"required,payment_status"`
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required,order_status"`
}

// GetOrders returns paginated orders for the authenticated user
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)

	result, err := oc.orders.ListOrders(ctx.Request.Context(), middleware.GetUserID(ctx), page, limit)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// GetOrderByID returns a specific order for the authenticated user
func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	order, err := oc.orders.GetOrder(ctx.Request.Context(), middleware.GetUserID(ctx), orderID)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) GetPaymentStatus(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	status, err := oc.orders.GetPaymentStatus(ctx.Request.Context(), orderID, middleware.GetUserID(ctx))
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order_id": orderID, "payment_status": status})
}

func (oc *OrderController) UpdatePaymentStatus(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	var req paymentStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.Validation("payment_status is missing or unknown"))
		return
	}

	order, err := oc.orders.UpdatePaymentStatus(ctx.Request.Context(), orderID, middleware.GetUserID(ctx), req.PaymentStatus)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) GetStatus(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	status, err := oc.orders.GetStatus(ctx.Request.Context(), orderID, middleware.GetUserID(ctx))
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": status})
}

func (oc *OrderController) UpdateStatus(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	var req statusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.Validation("status is missing or unknown"))
		return
	}

	order, err := oc.orders.UpdateStatus(ctx.Request.Context(), orderID, middleware.GetUserID(ctx), req.Status)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) CancelOrder(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}

	order, err := oc.orders.Cancel(ctx.Request.Context(), orderID, middleware.GetUserID(ctx))
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func orderIDParam(ctx *gin.Context) (uuid.UUID, bool) {
	orderID, err := services.ParseOrderID(ctx.Param("id"))
	if err != nil {
		ctx.Error(err)
		return uuid.Nil, false
	}
	return orderID, true
}

// parsePaginationParams extracts and validates pagination parameters
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const MaxLimit = 100
	const DefaultPage = 1
	const DefaultLimit = 10

	pageInt := DefaultPage
	limitInt := DefaultLimit

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		pageInt = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("limit", "10")); err == nil && l > 0 {
		limitInt = min(l, MaxLimit)
	}

	return pageInt, limitInt
}
