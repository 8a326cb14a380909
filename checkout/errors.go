package checkout

import (
	"errors"
	"fmt"
)

// Business-rule failures. Handlers map these to HTTP status codes; the
// checkout package itself never sees a transport.
var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidOrder      = errors.New("cannot create order with zero total")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrUnauthorized      = errors.New("resource belongs to another client")
	ErrDuplicatePayment  = errors.New("payment already exists for this order")
	ErrInvalidMethod     = errors.New("invalid payment method")
	ErrInvalidStatus     = errors.New("invalid payment status")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrInvalidSignature  = errors.New("invalid webhook signature")

	// ErrGatewayUnavailable is returned when the hosted-checkout call times
	// out or fails before any payment row is written. Nothing was committed,
	// so the caller may safely retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// InsufficientStockError aborts an order assembly; the whole attempt rolls
// back and no partial order is left behind.
type InsufficientStockError struct {
	ProductID int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d", e.ProductID)
}
