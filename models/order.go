package models

import "time"

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderPaymentStatus is the payment state projected onto the order. It is a
// distinct vocabulary from PaymentStatus: a succeeded payment shows up here
// as "paid".
type OrderPaymentStatus string

const (
	OrderPaymentPending OrderPaymentStatus = "pending"
	OrderPaymentPaid    OrderPaymentStatus = "paid"
	OrderPaymentFailed  OrderPaymentStatus = "failed"
)

type Order struct {
	ID            int                `json:"id"`
	ClientID      int                `json:"client_id"`
	TotalAmount   float64            `json:"total_amount"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus        `json:"order_status"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Items         []OrderItem        `json:"items,omitempty"`
}

// OrderItem snapshots product id, quantity and unit price at assembly time.
// UnitPrice is copied, never re-read, so order totals survive catalog edits.
type OrderItem struct {
	ID        int     `json:"id"`
	OrderID   int     `json:"order_id"`
	ProductID int     `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type UpdateOrderStatusRequest struct {
	OrderStatus OrderStatus `json:"order_status" binding:"required"`
}

type OrderEvent struct {
	OrderID       int                `json:"order_id"`
	ClientID      int                `json:"client_id"`
	TotalAmount   float64            `json:"total_amount"`
	OrderStatus   OrderStatus        `json:"order_status"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
	EventType     string             `json:"event_type"` // order_created, order_cancelled, order_status_changed
}
