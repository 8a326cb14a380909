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

// signatureHeader carries the processor's HMAC over the webhook body.
const signatureHeader = "X-Gateway-Signature"

type PaymentHandler struct {
	svc    *checkout.Service
	logger *zap.Logger
}

func NewPaymentHandler(svc *checkout.Service, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		svc:    svc,
		logger: logger,
	}
}

// CreatePayment records a payment for an order. Card payments return a
// payment_url the client is redirected to; cash on delivery stays pending.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "CreatePayment")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("order.id", orderID),
		attribute.String("payment.method", string(req.Method)),
	)

	payment, redirectURL, err := h.svc.RecordPayment(ctx, orderID, middleware.UserID(c), req)
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	middleware.RecordPaymentProcessed(string(payment.Status))
	span.SetAttributes(attribute.Int("payment.id", payment.ID))

	resp := gin.H{"payment": payment}
	if redirectURL != "" {
		resp["payment_url"] = redirectURL
	}
	c.JSON(http.StatusCreated, resp)
}

// GetOrderPayment returns the payment recorded for an order.
func (h *PaymentHandler) GetOrderPayment(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "GetOrderPayment")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	if middleware.RoleOf(c) != models.RoleAdmin {
		ownerID, err := h.svc.OrderOwner(ctx, orderID)
		if err != nil {
			span.RecordError(err)
			writeCheckoutError(c, h.logger, err)
			return
		}
		if ownerID != middleware.UserID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Order belongs to another client"})
			return
		}
	}

	payment, err := h.svc.GetOrderPayment(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Webhook receives asynchronous status notifications from the payment
// processor. The raw body is handed to the reconciler together with the
// signature header; nothing is trusted before the signature checks out.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "PaymentWebhook")
	defer span.End()

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}

	payment, err := h.svc.ReconcilePayment(ctx, payload, c.GetHeader(signatureHeader))
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	middleware.RecordPaymentProcessed(string(payment.Status))
	span.SetAttributes(attribute.Int("payment.id", payment.ID))
	c.JSON(http.StatusOK, gin.H{"message": "Webhook processed successfully"})
}

// UpdateStatus is the trusted manual override. Admin only; routed behind
// RequireRoles, so no signature check applies.
func (h *PaymentHandler) UpdateStatus(c *gin.Context) {
	ctx, span := otel.Tracer("shop-service").Start(c.Request.Context(), "UpdatePaymentStatus")
	defer span.End()

	paymentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	var req models.UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("payment.id", paymentID),
		attribute.String("payment.status", string(req.Status)),
	)

	payment, err := h.svc.SetPaymentStatus(ctx, paymentID, req.Status)
	if err != nil {
		span.RecordError(err)
		writeCheckoutError(c, h.logger, err)
		return
	}

	middleware.RecordPaymentProcessed(string(payment.Status))
	c.JSON(http.StatusOK, payment)
}
