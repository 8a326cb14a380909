package handlers

import (
	"net/http"
	"strconv"

	"shop-svc/checkout"
	"shop-svc/middleware"
	"shop-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	svc    *checkout.Service
	logger *zap.Logger
}

func NewOrderHandler(svc *checkout.Service, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		svc:    svc,
		logger: logger,
	}
}

// CreateOrder assembles an order from the authenticated client's cart.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	clientID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("client.id", clientID))

	order, err := h.svc.AssembleOrder(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		middleware.RecordOrderAssembled("failure")
		writeCheckoutError(c, h.logger, err)
		return
	}

	middleware.RecordOrderAssembled("success")
	span.SetAttributes(attribute.Int("order.id", order.ID))
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "ListOrders")
	defer span.End()

	orders, err := h.svc.ListOrders(ctx, middleware.UserID(c))
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	span.SetAttributes(attribute.Int("orders.count", len(orders)))
	c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := h.svc.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	if middleware.RoleOf(c) != models.RoleAdmin && order.ClientID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Order belongs to another client"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// CancelOrder cancels an order the client owns; stock is restored and the
// order goes terminal.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "CancelOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := h.svc.CancelOrder(ctx, orderID, middleware.UserID(c))
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdateStatus advances the fulfilment state machine. Admin only; routed
// behind RequireRoles.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("order.id", orderID),
		attribute.String("order.status", string(req.OrderStatus)),
	)

	order, err := h.svc.UpdateOrderStatus(ctx, orderID, req.OrderStatus)
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
