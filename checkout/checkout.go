// Package checkout implements the order and payment workflow: assembling an
// order from the client's cart, recording payments, reconciling asynchronous
// processor notifications and cancelling orders. Every multi-step mutation is
// scoped to a single database transaction.
package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"shop-svc/gateway"
	"shop-svc/models"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const eventsTopic = "order_events"

// Gateway is the hosted-checkout client used for card payments.
type Gateway interface {
	CreateSession(ctx context.Context, orderID int, amount float64) (gateway.Session, error)
	Verify(payload []byte, signature string) bool
}

// EventPublisher publishes order/payment lifecycle events. A nil publisher
// disables publishing; event failures never fail the request.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

type Service struct {
	db      *sql.DB
	gateway Gateway
	events  EventPublisher
	logger  *zap.Logger
}

func NewService(db *sql.DB, gw Gateway, events EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		gateway: gw,
		events:  events,
		logger:  logger,
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx so the cart snapshot can
// run standalone or inside the order-assembly transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CartSnapshot returns the client's cart id and its lines joined with each
// product's current price and stock, creating an empty cart on first access.
func (s *Service) CartSnapshot(ctx context.Context, clientID int) (int, []models.CartLine, error) {
	return s.cartSnapshot(ctx, s.db, clientID)
}

func (s *Service) cartSnapshot(ctx context.Context, q querier, clientID int) (int, []models.CartLine, error) {
	var cartID int
	err := q.QueryRowContext(ctx, "SELECT id FROM carts WHERE client_id = $1", clientID).Scan(&cartID)
	if errors.Is(err, sql.ErrNoRows) {
		err = q.QueryRowContext(ctx,
			"INSERT INTO carts (client_id) VALUES ($1) ON CONFLICT (client_id) DO UPDATE SET client_id = $1 RETURNING id",
			clientID,
		).Scan(&cartID)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load cart: %w", err)
	}

	// The join drops lines whose product no longer exists, matching the
	// assembler's precondition of "at least one line with a live product".
	rows, err := q.QueryContext(ctx,
		"SELECT ci.id, ci.product_id, p.name, ci.quantity, p.price, p.stock FROM cart_items ci JOIN products p ON p.id = ci.product_id WHERE ci.cart_id = $1 ORDER BY ci.id",
		cartID,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load cart lines: %w", err)
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		var l models.CartLine
		if err := rows.Scan(&l.ItemID, &l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Stock); err != nil {
			return 0, nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return cartID, lines, nil
}

// AssembleOrder converts the client's cart into an order. The stock check and
// decrement, the order and order-item inserts and the cart clear all happen in
// one transaction; any failure rolls back every prior write. The conditional
// UPDATE with its affected-row check closes the check-then-act race on stock.
func (s *Service) AssembleOrder(ctx context.Context, clientID int) (*models.Order, error) {
	ctx, span := otel.Tracer("shop-service").Start(ctx, "AssembleOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("client.id", clientID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cartID, lines, err := s.cartSnapshot(ctx, tx, clientID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Unit prices are locked in here, from the same transaction that
	// decrements stock, not from whatever the cart UI showed earlier.
	var total float64
	for _, line := range lines {
		res, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND stock >= $1",
			line.Quantity, line.ProductID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, &InsufficientStockError{ProductID: line.ProductID}
		}
		total += line.UnitPrice * float64(line.Quantity)
	}

	if total == 0 {
		return nil, ErrInvalidOrder
	}

	var order models.Order
	err = tx.QueryRowContext(ctx,
		"INSERT INTO orders (client_id, total_amount, payment_status, order_status) VALUES ($1, $2, $3, $4) RETURNING id, client_id, total_amount, payment_status, order_status, created_at, updated_at",
		clientID, total, models.OrderPaymentPending, models.OrderStatusProcessing,
	).Scan(&order.ID, &order.ClientID, &order.TotalAmount, &order.PaymentStatus, &order.OrderStatus, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, line := range lines {
		item := models.OrderItem{
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
		err = tx.QueryRowContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id",
			item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
		).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	span.SetAttributes(attribute.Int("order.id", order.ID), attribute.Float64("order.total", order.TotalAmount))
	s.publish(ctx, models.OrderEvent{
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		TotalAmount:   order.TotalAmount,
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
		EventType:     "order_created",
	})

	s.logger.Info("Order assembled",
		zap.Int("order_id", order.ID),
		zap.Int("client_id", clientID),
		zap.Float64("total_amount", order.TotalAmount),
		zap.Int("lines", len(order.Items)),
	)
	return &order, nil
}

// RecordPayment records a payment attempt for an order. Cash-on-delivery
// payments stay pending with no external call. Card payments go through the
// hosted-checkout redirect path: the gateway session is created before any row
// is written, so a gateway failure leaves nothing to clean up and the returned
// redirect URL points the client at the processor. The UNIQUE constraint on
// payments.order_id is the authoritative duplicate guard.
func (s *Service) RecordPayment(ctx context.Context, orderID, clientID int, req models.CreatePaymentRequest) (*models.Payment, string, error) {
	ctx, span := otel.Tracer("shop-service").Start(ctx, "RecordPayment")
	defer span.End()
	span.SetAttributes(attribute.Int("order.id", orderID), attribute.String("payment.method", string(req.Method)))

	if req.Method != models.PaymentMethodCard && req.Method != models.PaymentMethodCashOnDelivery {
		return nil, "", ErrInvalidMethod
	}

	var ownerID int
	var total float64
	err := s.db.QueryRowContext(ctx,
		"SELECT client_id, total_amount FROM orders WHERE id = $1",
		orderID,
	).Scan(&ownerID, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrOrderNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load order: %w", err)
	}
	if ownerID != clientID {
		return nil, "", ErrUnauthorized
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM payments WHERE order_id = $1)",
		orderID,
	).Scan(&exists); err != nil {
		return nil, "", fmt.Errorf("failed to check existing payment: %w", err)
	}
	if exists {
		return nil, "", ErrDuplicatePayment
	}

	transactionID := req.TransactionID
	redirectURL := ""
	if req.Method == models.PaymentMethodCard {
		session, err := s.gateway.CreateSession(ctx, orderID, total)
		if err != nil {
			span.RecordError(err)
			return nil, "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		transactionID = session.ID
		redirectURL = session.URL
	}

	var payment models.Payment
	err = s.db.QueryRowContext(ctx,
		"INSERT INTO payments (order_id, amount, method, status, transaction_id) VALUES ($1, $2, $3, $4, NULLIF($5, '')) RETURNING id, order_id, amount, method, status, COALESCE(transaction_id, ''), created_at, updated_at",
		orderID, total, req.Method, models.PaymentStatusPending, transactionID,
	).Scan(&payment.ID, &payment.OrderID, &payment.Amount, &payment.Method, &payment.Status, &payment.TransactionID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, "", ErrDuplicatePayment
		}
		return nil, "", fmt.Errorf("failed to create payment: %w", err)
	}

	span.SetAttributes(attribute.Int("payment.id", payment.ID))
	s.publish(ctx, models.PaymentEvent{
		PaymentID:     payment.ID,
		OrderID:       payment.OrderID,
		Amount:        payment.Amount,
		Status:        payment.Status,
		TransactionID: payment.TransactionID,
		EventType:     "payment_recorded",
	})

	s.logger.Info("Payment recorded",
		zap.Int("payment_id", payment.ID),
		zap.Int("order_id", orderID),
		zap.String("method", string(req.Method)),
	)
	return &payment, redirectURL, nil
}

// webhookNotification is the processor's payload: an external transaction id
// plus the terminal status it settled on.
type webhookNotification struct {
	TransactionID string               `json:"transaction_id"`
	Status        models.PaymentStatus `json:"status"`
}

// ReconcilePayment applies an asynchronous processor notification. The
// signature is verified before the payload is trusted; delivery is idempotent,
// so re-notification of a terminal state the payment already holds is a no-op.
func (s *Service) ReconcilePayment(ctx context.Context, payload []byte, signature string) (*models.Payment, error) {
	ctx, span := otel.Tracer("shop-service").Start(ctx, "ReconcilePayment")
	defer span.End()

	if !s.gateway.Verify(payload, signature) {
		span.SetAttributes(attribute.Bool("signature.valid", false))
		return nil, ErrInvalidSignature
	}

	var n webhookNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}
	if n.TransactionID == "" {
		return nil, ErrPaymentNotFound
	}
	span.SetAttributes(attribute.String("payment.transaction_id", n.TransactionID))

	return s.transitionPayment(ctx,
		"SELECT id, order_id, amount, method, status, COALESCE(transaction_id, ''), created_at, updated_at FROM payments WHERE transaction_id = $1 FOR UPDATE",
		n.TransactionID, normalizeStatus(n.Status), false)
}

// SetPaymentStatus is the trusted admin path: same terminal transition logic
// as the webhook, no signature, and overrides of a terminal state are allowed.
func (s *Service) SetPaymentStatus(ctx context.Context, paymentID int, status models.PaymentStatus) (*models.Payment, error) {
	ctx, span := otel.Tracer("shop-service").Start(ctx, "SetPaymentStatus")
	defer span.End()
	span.SetAttributes(attribute.Int("payment.id", paymentID))

	switch status {
	case models.PaymentStatusPending, models.PaymentStatusSucceeded, models.PaymentStatusFailed:
	default:
		return nil, ErrInvalidStatus
	}

	return s.transitionPayment(ctx,
		"SELECT id, order_id, amount, method, status, COALESCE(transaction_id, ''), created_at, updated_at FROM payments WHERE id = $1 FOR UPDATE",
		paymentID, status, true)
}

// normalizeStatus collapses unknown processor statuses to pending.
func normalizeStatus(status models.PaymentStatus) models.PaymentStatus {
	switch status {
	case models.PaymentStatusSucceeded, models.PaymentStatusFailed:
		return status
	default:
		return models.PaymentStatusPending
	}
}

// orderPaymentStatusFor projects a payment status onto the owning order.
func orderPaymentStatusFor(status models.PaymentStatus) models.OrderPaymentStatus {
	switch status {
	case models.PaymentStatusSucceeded:
		return models.OrderPaymentPaid
	case models.PaymentStatusFailed:
		return models.OrderPaymentFailed
	default:
		return models.OrderPaymentPending
	}
}

func (s *Service) transitionPayment(ctx context.Context, selectQuery string, arg any, target models.PaymentStatus, override bool) (*models.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var p models.Payment
	err = tx.QueryRowContext(ctx, selectQuery, arg).Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	// Duplicate deliveries and late conflicting notifications are both
	// no-ops: the first terminal state wins unless an admin overrides it.
	if p.Status == target || (p.Status.Terminal() && !override) {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.logger.Info("Payment transition skipped",
			zap.Int("payment_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.String("requested", string(target)),
		)
		return &p, nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		target, p.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		orderPaymentStatusFor(target), p.OrderID,
	); err != nil {
		return nil, fmt.Errorf("failed to update order payment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment transition: %w", err)
	}

	p.Status = target
	eventType := "payment_pending"
	switch target {
	case models.PaymentStatusSucceeded:
		eventType = "payment_succeeded"
	case models.PaymentStatusFailed:
		eventType = "payment_failed"
	}
	s.publish(ctx, models.PaymentEvent{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Status:        p.Status,
		TransactionID: p.TransactionID,
		EventType:     eventType,
	})

	s.logger.Info("Payment reconciled",
		zap.Int("payment_id", p.ID),
		zap.Int("order_id", p.OrderID),
		zap.String("status", string(target)),
	)
	return &p, nil
}

// CancelOrder cancels an order owned by clientID. The status guard in the
// UPDATE's WHERE clause makes exactly one of two concurrent cancellations win;
// stock restoration happens in the same transaction as the status write.
func (s *Service) CancelOrder(ctx context.Context, orderID, clientID int) (*models.Order, error) {
	ctx, span := otel.Tracer("shop-service").Start(ctx, "CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("order.id", orderID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID int
	err = tx.QueryRowContext(ctx, "SELECT client_id FROM orders WHERE id = $1 FOR UPDATE", orderID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if ownerID != clientID {
		return nil, ErrUnauthorized
	}

	var order models.Order
	err = tx.QueryRowContext(ctx,
		"UPDATE orders SET order_status = $1, payment_status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3 AND order_status IN ('processing', 'shipped') RETURNING id, client_id, total_amount, payment_status, order_status, created_at, updated_at",
		models.OrderStatusCancelled, models.OrderPaymentFailed, orderID,
	).Scan(&order.ID, &order.ClientID, &order.TotalAmount, &order.PaymentStatus, &order.OrderStatus, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIllegalTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id, product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	for rows.Next() {
		var item models.OrderItem
		item.OrderID = orderID
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
			item.Quantity, item.ProductID,
		); err != nil {
			return nil, fmt.Errorf("failed to restore stock: %w", err)
		}
	}

	// A still-pending payment goes terminal with its order.
	if _, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE order_id = $2 AND status = $3",
		models.PaymentStatusFailed, orderID, models.PaymentStatusPending,
	); err != nil {
		return nil, fmt.Errorf("failed to fail pending payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	s.publish(ctx, models.OrderEvent{
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		TotalAmount:   order.TotalAmount,
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
		EventType:     "order_cancelled",
	})

	s.logger.Info("Order cancelled", zap.Int("order_id", order.ID), zap.Int("client_id", clientID))
	return &order, nil
}

// UpdateOrderStatus advances the fulfilment state machine:
// processing -> shipped -> delivered. Cancellation goes through CancelOrder.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int, next models.OrderStatus) (*models.Order, error) {
	var prev models.OrderStatus
	switch next {
	case models.OrderStatusShipped:
		prev = models.OrderStatusProcessing
	case models.OrderStatusDelivered:
		prev = models.OrderStatusShipped
	default:
		return nil, ErrIllegalTransition
	}

	var order models.Order
	err := s.db.QueryRowContext(ctx,
		"UPDATE orders SET order_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND order_status = $3 RETURNING id, client_id, total_amount, payment_status, order_status, created_at, updated_at",
		next, orderID, prev,
	).Scan(&order.ID, &order.ClientID, &order.TotalAmount, &order.PaymentStatus, &order.OrderStatus, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var current models.OrderStatus
		err := s.db.QueryRowContext(ctx, "SELECT order_status FROM orders WHERE id = $1", orderID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
		return nil, ErrIllegalTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.publish(ctx, models.OrderEvent{
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		TotalAmount:   order.TotalAmount,
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
		EventType:     "order_status_changed",
	})

	s.logger.Info("Order status updated", zap.Int("order_id", order.ID), zap.String("order_status", string(next)))
	return &order, nil
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	var order models.Order
	err := s.db.QueryRowContext(ctx,
		"SELECT id, client_id, total_amount, payment_status, order_status, created_at, updated_at FROM orders WHERE id = $1",
		orderID,
	).Scan(&order.ID, &order.ClientID, &order.TotalAmount, &order.PaymentStatus, &order.OrderStatus, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	items, err := s.loadOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// ListOrders returns the client's orders, newest first, with items.
func (s *Service) ListOrders(ctx context.Context, clientID int) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, client_id, total_amount, payment_status, order_status, created_at, updated_at FROM orders WHERE client_id = $1 ORDER BY created_at DESC",
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.ClientID, &order.TotalAmount, &order.PaymentStatus, &order.OrderStatus, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Service) loadOrderItems(ctx context.Context, orderID int) ([]models.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetOrderPayment returns the payment recorded for an order, if any.
func (s *Service) GetOrderPayment(ctx context.Context, orderID int) (*models.Payment, error) {
	var p models.Payment
	err := s.db.QueryRowContext(ctx,
		"SELECT id, order_id, amount, method, status, COALESCE(transaction_id, ''), created_at, updated_at FROM payments WHERE order_id = $1",
		orderID,
	).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &p, nil
}

// OrderOwner returns the client id that owns the order.
func (s *Service) OrderOwner(ctx context.Context, orderID int) (int, error) {
	var ownerID int
	err := s.db.QueryRowContext(ctx, "SELECT client_id FROM orders WHERE id = $1", orderID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrOrderNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load order: %w", err)
	}
	return ownerID, nil
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventsTopic, event); err != nil {
		s.logger.Error("Failed to publish event", zap.Error(err))
	}
}
