package handlers

import (
	"errors"
	"net/http"

	"shop-svc/checkout"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeCheckoutError maps the checkout package's typed failures onto HTTP
// status codes. The transport mapping lives here so the core stays free of it.
func writeCheckoutError(c *gin.Context, logger *zap.Logger, err error) {
	var stockErr *checkout.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{"error": stockErr.Error(), "product_id": stockErr.ProductID})
	case errors.Is(err, checkout.ErrOrderNotFound),
		errors.Is(err, checkout.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, checkout.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, checkout.ErrDuplicatePayment),
		errors.Is(err, checkout.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidOrder),
		errors.Is(err, checkout.ErrInvalidMethod),
		errors.Is(err, checkout.ErrInvalidStatus),
		errors.Is(err, checkout.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": true})
	default:
		logger.Error("Unexpected error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
