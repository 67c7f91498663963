package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, order_number, status, payment_status, stock_op, region,
	customer_email, shipping_address, subtotal, tax, shipping, discount, total,
	coupon_code, idempotency_key, created_at, updated_at`

// InsertOrder creates a new order row.
func (u *UnitOfWork) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders
			(order_number, status, payment_status, stock_op, region, customer_email,
			 shipping_address, subtotal, tax, shipping, discount, total, coupon_code,
			 idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	return u.tx.QueryRowxContext(ctx, query,
		order.OrderNumber, order.Status, order.PaymentStatus, order.StockOp,
		order.Region, order.CustomerEmail, order.ShippingAddress,
		order.Subtotal, order.Tax, order.Shipping, order.Discount, order.Total,
		order.CouponCode, order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

// InsertOrderItem creates an order line.
func (u *UnitOfWork) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, option_ids, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return u.tx.QueryRowxContext(ctx, query,
		item.OrderID, item.ProductID, item.OptionIDs, item.Quantity, item.UnitPrice,
	).Scan(&item.ID)
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, s.db, id, "")
}

// GetOrderForUpdate locks the order row; the lock serializes all state-machine
// transitions for one order.
func (u *UnitOfWork) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, u.tx, id, " FOR UPDATE")
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, id int64, suffix string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1"+suffix, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns (nil, nil) when no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all lines of an order.
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, s.db, orderID)
}

// GetOrderItems retrieves order lines inside the transaction.
func (u *UnitOfWork) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, u.tx, orderID)
}

func getOrderItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT id, order_id, product_id, option_ids, quantity, unit_price FROM order_items WHERE order_id = $1",
		orderID)
	return items, err
}

// UpdateOrderState moves the order to a new status and records which ledger
// operation has been applied, in one statement.
func (u *UnitOfWork) UpdateOrderState(ctx context.Context, orderID int64, status models.OrderStatus, paymentStatus models.PaymentStatus, stockOp models.StockOp) error {
	_, err := u.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, stock_op = $3, updated_at = NOW()
		WHERE id = $4`,
		status, paymentStatus, stockOp, orderID)
	return err
}

// UpsertPayment records a gateway transaction, keyed by the gateway tx id so a
// replayed capture event lands on the same row.
func (u *UnitOfWork) UpsertPayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, gateway_tx_id, status, amount, failure_reason, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gateway_tx_id) DO UPDATE
		SET status = EXCLUDED.status,
		    failure_reason = EXCLUDED.failure_reason,
		    completed_at = EXCLUDED.completed_at
		RETURNING id, created_at`

	return u.tx.QueryRowxContext(ctx, query,
		p.OrderID, p.GatewayTxID, p.Status, p.Amount, p.FailureReason, p.CompletedAt,
	).Scan(&p.ID, &p.CreatedAt)
}

// GetPaymentByOrder retrieves the latest payment for an order.
func (u *UnitOfWork) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := u.tx.GetContext(ctx, &payment, `
		SELECT id, order_id, gateway_tx_id, status, amount, failure_reason, completed_at, created_at
		FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// InsertRefund records a gateway refund.
func (u *UnitOfWork) InsertRefund(ctx context.Context, r *models.Refund) error {
	query := `
		INSERT INTO refunds (payment_id, order_id, gateway_refund_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return u.tx.QueryRowxContext(ctx, query,
		r.PaymentID, r.OrderID, r.GatewayRefundID, r.Amount, r.Status,
	).Scan(&r.ID, &r.CreatedAt)
}

// GetWebhookEvent looks up the dedup row for a gateway event id, locking it
// when present so concurrent duplicate deliveries serialize.
func (u *UnitOfWork) GetWebhookEvent(ctx context.Context, gatewayEventID string) (*models.WebhookEvent, error) {
	var evt models.WebhookEvent
	err := u.tx.GetContext(ctx, &evt, `
		SELECT id, gateway_event_id, event_type, raw_payload, outcome, detail, processed_at
		FROM webhook_events WHERE gateway_event_id = $1 FOR UPDATE`, gatewayEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// RecordWebhookEvent writes the dedup row. Processed and ignored outcomes are
// final: the upsert only replaces a previously recorded conflict, so a racing
// duplicate delivery whose dedup read predates the first delivery's commit can
// never downgrade the committed result. A suppressed write surfaces as
// ErrDuplicateEvent with the stored row untouched.
func (u *UnitOfWork) RecordWebhookEvent(ctx context.Context, evt *models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (gateway_event_id, event_type, raw_payload, outcome, detail, processed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (gateway_event_id) DO UPDATE
		SET outcome = EXCLUDED.outcome, detail = EXCLUDED.detail, processed_at = NOW()
		WHERE webhook_events.outcome = 'conflict'
		RETURNING id, processed_at`

	err := u.tx.QueryRowxContext(ctx, query,
		evt.GatewayEventID, evt.EventType, evt.RawPayload, evt.Outcome, evt.Detail,
	).Scan(&evt.ID, &evt.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s already finalized: %w", evt.GatewayEventID, models.ErrDuplicateEvent)
	}
	return err
}
