package checkout

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"shop-svc/gateway"
	"shop-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type stubGateway struct {
	session    gateway.Session
	err        error
	validSig   bool
	createCall int
}

func (g *stubGateway) CreateSession(ctx context.Context, orderID int, amount float64) (gateway.Session, error) {
	g.createCall++
	if g.err != nil {
		return gateway.Session{}, g.err
	}
	return g.session, nil
}

func (g *stubGateway) Verify(payload []byte, signature string) bool {
	return g.validSig
}

type capturedEvents struct {
	events []any
}

func (p *capturedEvents) Publish(ctx context.Context, topic string, event any) error {
	p.events = append(p.events, event)
	return nil
}

func setupCheckoutTest(t *testing.T) (*Service, sqlmock.Sqlmock, *stubGateway, *capturedEvents) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gw := &stubGateway{validSig: true}
	events := &capturedEvents{}
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	svc := NewService(db, gw, events, logger)

	return svc, mock, gw, events
}

const (
	selectCartQuery      = "SELECT id FROM carts WHERE client_id = $1"
	selectLinesQuery     = "SELECT ci.id, ci.product_id, p.name, ci.quantity, p.price, p.stock FROM cart_items ci JOIN products p ON p.id = ci.product_id WHERE ci.cart_id = $1 ORDER BY ci.id"
	decrementStockQuery  = "UPDATE products SET stock = stock - $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND stock >= $1"
	insertOrderQuery     = "INSERT INTO orders (client_id, total_amount, payment_status, order_status) VALUES ($1, $2, $3, $4) RETURNING id, client_id, total_amount, payment_status, order_status, created_at, updated_at"
	insertOrderItemQuery = "INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id"
	clearCartQuery       = "DELETE FROM cart_items WHERE cart_id = $1"
	selectOrderForPay    = "SELECT client_id, total_amount FROM orders WHERE id = $1"
	paymentExistsQuery   = "SELECT EXISTS(SELECT 1 FROM payments WHERE order_id = $1)"
	insertPaymentQuery   = "INSERT INTO payments (order_id, amount, method, status, transaction_id) VALUES ($1, $2, $3, $4, NULLIF($5, '')) RETURNING id, order_id, amount, method, status, COALESCE(transaction_id, ''), created_at, updated_at"
	selectPaymentByTxn   = "SELECT id, order_id, amount, method, status, COALESCE(transaction_id, ''), created_at, updated_at FROM payments WHERE transaction_id = $1 FOR UPDATE"
	selectPaymentByID    = "SELECT id, order_id, amount, method, status, COALESCE(transaction_id, ''), created_at, updated_at FROM payments WHERE id = $1 FOR UPDATE"
	updatePaymentQuery   = "UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2"
	updateOrderPayQuery  = "UPDATE orders SET payment_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2"
	lockOrderQuery       = "SELECT client_id FROM orders WHERE id = $1 FOR UPDATE"
	cancelOrderQuery     = "UPDATE orders SET order_status = $1, payment_status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3 AND order_status IN ('processing', 'shipped') RETURNING id, client_id, total_amount, payment_status, order_status, created_at, updated_at"
	cancelItemsQuery     = "SELECT id, product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id"
	restoreStockQuery    = "UPDATE products SET stock = stock + $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2"
	failPendingPayQuery  = "UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE order_id = $2 AND status = $3"
	advanceOrderQuery    = "UPDATE orders SET order_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND order_status = $3 RETURNING id, client_id, total_amount, payment_status, order_status, created_at, updated_at"
)

func orderColumns() []string {
	return []string{"id", "client_id", "total_amount", "payment_status", "order_status", "created_at", "updated_at"}
}

func paymentColumns() []string {
	return []string{"id", "order_id", "amount", "method", "status", "transaction_id", "created_at", "updated_at"}
}

func TestAssembleOrder_Success(t *testing.T) {
	svc, mock, _, events := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectCartQuery)).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(selectLinesQuery)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "name", "quantity", "price", "stock"}).
			AddRow(11, 1, "Widget", 2, 10.00, 5).
			AddRow(12, 2, "Gadget", 1, 5.00, 3))
	mock.ExpectExec(regexp.QuoteMeta(decrementStockQuery)).
		WithArgs(2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(decrementStockQuery)).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(insertOrderQuery)).
		WithArgs(42, 25.00, models.OrderPaymentPending, models.OrderStatusProcessing).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(100, 42, 25.00, "pending", "processing", time.Now(), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(insertOrderItemQuery)).
		WithArgs(100, 1, 2, 10.00).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(200))
	mock.ExpectQuery(regexp.QuoteMeta(insertOrderItemQuery)).
		WithArgs(100, 2, 1, 5.00).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(201))
	mock.ExpectExec(regexp.QuoteMeta(clearCartQuery)).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	order, err := svc.AssembleOrder(context.Background(), 42)
	if err != nil {
		t.Fatalf("AssembleOrder failed: %v", err)
	}

	if order.TotalAmount != 25.00 {
		t.Errorf("Expected total 25.00, got %v", order.TotalAmount)
	}
	if len(order.Items) != 2 {
		t.Errorf("Expected 2 order items, got %d", len(order.Items))
	}
	if order.Items[0].UnitPrice != 10.00 || order.Items[0].Quantity != 2 {
		t.Errorf("Unexpected first item snapshot: %+v", order.Items[0])
	}
	if order.OrderStatus != models.OrderStatusProcessing || order.PaymentStatus != models.OrderPaymentPending {
		t.Errorf("Unexpected initial statuses: %s/%s", order.OrderStatus, order.PaymentStatus)
	}

	if len(events.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events.events))
	}
	if ev := events.events[0].(models.OrderEvent); ev.EventType != "order_created" {
		t.Errorf("Expected order_created event, got %s", ev.EventType)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAssembleOrder_InsufficientStock(t *testing.T) {
	svc, mock, _, events := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectCartQuery)).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(selectLinesQuery)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "name", "quantity", "price", "stock"}).
			AddRow(11, 1, "Widget", 5, 10.00, 3))
	// Conditional decrement loses: stock 3 < quantity 5.
	mock.ExpectExec(regexp.QuoteMeta(decrementStockQuery)).
		WithArgs(5, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.AssembleOrder(context.Background(), 42)

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != 1 {
		t.Errorf("Expected product 1, got %d", stockErr.ProductID)
	}
	if len(events.events) != 0 {
		t.Errorf("Expected no events on rollback, got %d", len(events.events))
	}

	// No order insert, no item insert, no cart clear: the whole attempt
	// rolled back.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAssembleOrder_EmptyCart(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectCartQuery)).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(selectLinesQuery)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "name", "quantity", "price", "stock"}))
	mock.ExpectRollback()

	_, err := svc.AssembleOrder(context.Background(), 42)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("Expected ErrEmptyCart, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAssembleOrder_ZeroTotal(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectCartQuery)).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(selectLinesQuery)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "name", "quantity", "price", "stock"}).
			AddRow(11, 1, "Freebie", 1, 0.00, 10))
	mock.ExpectExec(regexp.QuoteMeta(decrementStockQuery)).
		WithArgs(1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := svc.AssembleOrder(context.Background(), 42)
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("Expected ErrInvalidOrder, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestAssembleOrder_LazyCartCreation(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectCartQuery)).
		WithArgs(42).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO carts (client_id) VALUES ($1) ON CONFLICT (client_id) DO UPDATE SET client_id = $1 RETURNING id")).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectQuery(regexp.QuoteMeta(selectLinesQuery)).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "name", "quantity", "price", "stock"}))
	mock.ExpectRollback()

	_, err := svc.AssembleOrder(context.Background(), 42)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("Expected ErrEmptyCart for a fresh cart, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestRecordPayment_CashOnDelivery(t *testing.T) {
	svc, mock, _, events := setupCheckoutTest(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderForPay)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "total_amount"}).AddRow(42, 25.00))
	mock.ExpectQuery(regexp.QuoteMeta(paymentExistsQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(insertPaymentQuery)).
		WithArgs(100, 25.00, models.PaymentMethodCashOnDelivery, models.PaymentStatusPending, "").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(1, 100, 25.00, "cash_on_delivery", "pending", "", time.Now(), time.Now()))

	payment, redirectURL, err := svc.RecordPayment(context.Background(), 100, 42, models.CreatePaymentRequest{
		Method: models.PaymentMethodCashOnDelivery,
	})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	if payment.Status != models.PaymentStatusPending {
		t.Errorf("Expected pending payment, got %s", payment.Status)
	}
	if redirectURL != "" {
		t.Errorf("Expected no redirect for cash on delivery, got %q", redirectURL)
	}
	if payment.Amount != 25.00 {
		t.Errorf("Expected amount copied from order total, got %v", payment.Amount)
	}
	if len(events.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events.events))
	}
	if ev := events.events[0].(models.PaymentEvent); ev.EventType != "payment_recorded" {
		t.Errorf("Expected payment_recorded event, got %s", ev.EventType)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestRecordPayment_CardRedirect(t *testing.T) {
	svc, mock, gw, _ := setupCheckoutTest(t)
	gw.session = gateway.Session{ID: "cs_123", URL: "https://pay.example.com/cs_123"}

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderForPay)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "total_amount"}).AddRow(42, 25.00))
	mock.ExpectQuery(regexp.QuoteMeta(paymentExistsQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(insertPaymentQuery)).
		WithArgs(100, 25.00, models.PaymentMethodCard, models.PaymentStatusPending, "cs_123").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(1, 100, 25.00, "card", "pending", "cs_123", time.Now(), time.Now()))

	payment, redirectURL, err := svc.RecordPayment(context.Background(), 100, 42, models.CreatePaymentRequest{
		Method: models.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	if payment.TransactionID != "cs_123" {
		t.Errorf("Expected session id as transaction id, got %q", payment.TransactionID)
	}
	if redirectURL != "https://pay.example.com/cs_123" {
		t.Errorf("Unexpected redirect URL %q", redirectURL)
	}
	if gw.createCall != 1 {
		t.Errorf("Expected exactly one gateway call, got %d", gw.createCall)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestRecordPayment_GatewayUnavailable(t *testing.T) {
	svc, mock, gw, _ := setupCheckoutTest(t)
	gw.err = errors.New("connection timed out")

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderForPay)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "total_amount"}).AddRow(42, 25.00))
	mock.ExpectQuery(regexp.QuoteMeta(paymentExistsQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, _, err := svc.RecordPayment(context.Background(), 100, 42, models.CreatePaymentRequest{
		Method: models.PaymentMethodCard,
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("Expected ErrGatewayUnavailable, got %v", err)
	}

	// No payment row was written; the caller may retry.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestRecordPayment_Duplicate(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderForPay)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "total_amount"}).AddRow(42, 25.00))
	mock.ExpectQuery(regexp.QuoteMeta(paymentExistsQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, _, err := svc.RecordPayment(context.Background(), 100, 42, models.CreatePaymentRequest{
		Method: models.PaymentMethodCashOnDelivery,
	})
	if !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("Expected ErrDuplicatePayment, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestRecordPayment_DuplicateRaceOnInsert(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderForPay)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "total_amount"}).AddRow(42, 25.00))
	mock.ExpectQuery(regexp.QuoteMeta(paymentExistsQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	// A concurrent insert won between the existence check and ours; the
	// UNIQUE constraint on order_id is the authoritative guard.
	mock.ExpectQuery(regexp.QuoteMeta(insertPaymentQuery)).
		WithArgs(100, 25.00, models.PaymentMethodCashOnDelivery, models.PaymentStatusPending, "").
		WillReturnError(&pq.Error{Code: "23505"})

	_, _, err := svc.RecordPayment(context.Background(), 100, 42, models.CreatePaymentRequest{
		Method: models.PaymentMethodCashOnDelivery,
	})
	if !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("Expected ErrDuplicatePayment from unique violation, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestRecordPayment_Unauthorized(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderForPay)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "total_amount"}).AddRow(7, 25.00))

	_, _, err := svc.RecordPayment(context.Background(), 100, 42, models.CreatePaymentRequest{
		Method: models.PaymentMethodCashOnDelivery,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestRecordPayment_OrderNotFound(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectOrderForPay)).
		WithArgs(999).
		WillReturnError(sql.ErrNoRows)

	_, _, err := svc.RecordPayment(context.Background(), 999, 42, models.CreatePaymentRequest{
		Method: models.PaymentMethodCashOnDelivery,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestRecordPayment_InvalidMethod(t *testing.T) {
	svc, _, _, _ := setupCheckoutTest(t)

	_, _, err := svc.RecordPayment(context.Background(), 100, 42, models.CreatePaymentRequest{
		Method: "bitcoin",
	})
	if !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("Expected ErrInvalidMethod, got %v", err)
	}
}

func TestReconcilePayment_Succeeded(t *testing.T) {
	svc, mock, _, events := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectPaymentByTxn)).
		WithArgs("cs_123").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(1, 100, 25.00, "card", "pending", "cs_123", time.Now(), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(updatePaymentQuery)).
		WithArgs(models.PaymentStatusSucceeded, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(updateOrderPayQuery)).
		WithArgs(models.OrderPaymentPaid, 100).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload := []byte(`{"transaction_id":"cs_123","status":"succeeded"}`)
	payment, err := svc.ReconcilePayment(context.Background(), payload, "sig")
	if err != nil {
		t.Fatalf("ReconcilePayment failed: %v", err)
	}

	if payment.Status != models.PaymentStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", payment.Status)
	}
	if len(events.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events.events))
	}
	if ev := events.events[0].(models.PaymentEvent); ev.EventType != "payment_succeeded" {
		t.Errorf("Expected payment_succeeded event, got %s", ev.EventType)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestReconcilePayment_DuplicateDeliveryIsNoOp(t *testing.T) {
	svc, mock, _, events := setupCheckoutTest(t)

	// Payment already settled; the duplicate notification must not touch
	// the payment or the order again.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectPaymentByTxn)).
		WithArgs("cs_123").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(1, 100, 25.00, "card", "succeeded", "cs_123", time.Now(), time.Now()))
	mock.ExpectCommit()

	payload := []byte(`{"transaction_id":"cs_123","status":"succeeded"}`)
	payment, err := svc.ReconcilePayment(context.Background(), payload, "sig")
	if err != nil {
		t.Fatalf("Duplicate delivery must not error, got %v", err)
	}

	if payment.Status != models.PaymentStatusSucceeded {
		t.Errorf("Expected status unchanged, got %s", payment.Status)
	}
	if len(events.events) != 0 {
		t.Errorf("Expected no events on no-op delivery, got %d", len(events.events))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestReconcilePayment_ConflictingTerminalIsNoOp(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectPaymentByTxn)).
		WithArgs("cs_123").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(1, 100, 25.00, "card", "succeeded", "cs_123", time.Now(), time.Now()))
	mock.ExpectCommit()

	// A late "failed" after "succeeded" keeps the first terminal state.
	payload := []byte(`{"transaction_id":"cs_123","status":"failed"}`)
	payment, err := svc.ReconcilePayment(context.Background(), payload, "sig")
	if err != nil {
		t.Fatalf("Conflicting delivery must not error, got %v", err)
	}
	if payment.Status != models.PaymentStatusSucceeded {
		t.Errorf("Expected first terminal state kept, got %s", payment.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestReconcilePayment_InvalidSignature(t *testing.T) {
	svc, mock, gw, _ := setupCheckoutTest(t)
	gw.validSig = false

	payload := []byte(`{"transaction_id":"cs_123","status":"succeeded"}`)
	_, err := svc.ReconcilePayment(context.Background(), payload, "bad")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Expected ErrInvalidSignature, got %v", err)
	}

	// State must be untouched on a forged notification.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestReconcilePayment_NotFound(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectPaymentByTxn)).
		WithArgs("cs_unknown").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	payload := []byte(`{"transaction_id":"cs_unknown","status":"succeeded"}`)
	_, err := svc.ReconcilePayment(context.Background(), payload, "sig")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("Expected ErrPaymentNotFound, got %v", err)
	}
}

func TestSetPaymentStatus_AdminOverride(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectPaymentByID)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(1, 100, 25.00, "card", "succeeded", "cs_123", time.Now(), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(updatePaymentQuery)).
		WithArgs(models.PaymentStatusFailed, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(updateOrderPayQuery)).
		WithArgs(models.OrderPaymentFailed, 100).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payment, err := svc.SetPaymentStatus(context.Background(), 1, models.PaymentStatusFailed)
	if err != nil {
		t.Fatalf("SetPaymentStatus failed: %v", err)
	}
	if payment.Status != models.PaymentStatusFailed {
		t.Errorf("Expected failed after override, got %s", payment.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestSetPaymentStatus_InvalidStatus(t *testing.T) {
	svc, _, _, _ := setupCheckoutTest(t)

	_, err := svc.SetPaymentStatus(context.Background(), 1, "refunded")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("Expected ErrInvalidStatus, got %v", err)
	}
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	svc, mock, _, events := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}).AddRow(42))
	mock.ExpectQuery(regexp.QuoteMeta(cancelOrderQuery)).
		WithArgs(models.OrderStatusCancelled, models.OrderPaymentFailed, 100).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(100, 42, 25.00, "failed", "cancelled", time.Now(), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(cancelItemsQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "quantity", "unit_price"}).
			AddRow(200, 1, 2, 10.00).
			AddRow(201, 2, 1, 5.00))
	mock.ExpectExec(regexp.QuoteMeta(restoreStockQuery)).
		WithArgs(2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(restoreStockQuery)).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(failPendingPayQuery)).
		WithArgs(models.PaymentStatusFailed, 100, models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	order, err := svc.CancelOrder(context.Background(), 100, 42)
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	if order.OrderStatus != models.OrderStatusCancelled {
		t.Errorf("Expected cancelled, got %s", order.OrderStatus)
	}
	if order.PaymentStatus != models.OrderPaymentFailed {
		t.Errorf("Expected payment_status failed, got %s", order.PaymentStatus)
	}
	if len(events.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events.events))
	}
	if ev := events.events[0].(models.OrderEvent); ev.EventType != "order_cancelled" {
		t.Errorf("Expected order_cancelled event, got %s", ev.EventType)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCancelOrder_TerminalStateRejected(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}).AddRow(42))
	// Guarded update matches no row: the order is delivered or already
	// cancelled.
	mock.ExpectQuery(regexp.QuoteMeta(cancelOrderQuery)).
		WithArgs(models.OrderStatusCancelled, models.OrderPaymentFailed, 100).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.CancelOrder(context.Background(), 100, 42)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Expected ErrIllegalTransition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCancelOrder_Unauthorized(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderQuery)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}).AddRow(7))
	mock.ExpectRollback()

	_, err := svc.CancelOrder(context.Background(), 100, 42)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestCancelOrder_NotFound(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderQuery)).
		WithArgs(999).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.CancelOrder(context.Background(), 999, 42)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestUpdateOrderStatus_Ship(t *testing.T) {
	svc, mock, _, events := setupCheckoutTest(t)

	mock.ExpectQuery(regexp.QuoteMeta(advanceOrderQuery)).
		WithArgs(models.OrderStatusShipped, 100, models.OrderStatusProcessing).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(100, 42, 25.00, "paid", "shipped", time.Now(), time.Now()))

	order, err := svc.UpdateOrderStatus(context.Background(), 100, models.OrderStatusShipped)
	if err != nil {
		t.Fatalf("UpdateOrderStatus failed: %v", err)
	}
	if order.OrderStatus != models.OrderStatusShipped {
		t.Errorf("Expected shipped, got %s", order.OrderStatus)
	}
	if len(events.events) != 1 {
		t.Errorf("Expected 1 event, got %d", len(events.events))
	}
}

func TestUpdateOrderStatus_SkippingAStateRejected(t *testing.T) {
	svc, mock, _, _ := setupCheckoutTest(t)

	// Delivering an order that is still processing: guard matches nothing,
	// the follow-up read shows why.
	mock.ExpectQuery(regexp.QuoteMeta(advanceOrderQuery)).
		WithArgs(models.OrderStatusDelivered, 100, models.OrderStatusShipped).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT order_status FROM orders WHERE id = $1")).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"order_status"}).AddRow("processing"))

	_, err := svc.UpdateOrderStatus(context.Background(), 100, models.OrderStatusDelivered)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Expected ErrIllegalTransition, got %v", err)
	}
}

func TestUpdateOrderStatus_CancelledViaStatusRejected(t *testing.T) {
	svc, _, _, _ := setupCheckoutTest(t)

	_, err := svc.UpdateOrderStatus(context.Background(), 100, models.OrderStatusCancelled)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Expected ErrIllegalTransition, got %v", err)
	}
}
