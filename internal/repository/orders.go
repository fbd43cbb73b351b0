package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/google/uuid"
)

// ReserveAndCreateOrder is the checkout's durability boundary. In one
// transaction it claims the idempotency key, applies every staged stock
// decrement with a conditional update that re-checks availability against
// committed state, inserts the order with its lines, removes the consumed cart
// lines and writes an order.created outbox event. Either all of it commits or
// none of it does.
func (r *Repository) ReserveAndCreateOrder(ctx context.Context, a *domain.Assembly, idempotencyKey string) error {
	order := a.Order
	if len(order.Items) == 0 {
		return domain.ErrEmptyCart
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if idempotencyKey != "" {
			_, err := tx.ExecContext(ctx,
				r.q(`INSERT INTO checkout_idempotency (idempotency_key, order_id, created_at) VALUES (?, ?, ?)`),
				idempotencyKey, order.ID, order.CreatedAt)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicateCheckout
				}
				return fmt.Errorf("insert idempotency key: %w", err)
			}
		}

		for _, d := range a.Decrements {
			if err := r.decrementStock(ctx, tx, d, order.CreatedAt); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			r.q(`INSERT INTO orders (id, buyer_id, buyer_email, status, total_amount, currency, created_at, updated_at)
			     VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			order.ID,
			order.BuyerID,
			order.BuyerEmail,
			string(order.Status),
			order.TotalAmount,
			order.Currency,
			order.CreatedAt,
			order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			_, err := tx.ExecContext(ctx,
				r.q(`INSERT INTO order_items (order_id, product_id, quantity, unit_price, line_total) VALUES (?, ?, ?, ?, ?)`),
				order.ID, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if err := r.consumeCartLines(ctx, tx, order.BuyerID, a.Consumed); err != nil {
			return err
		}

		return r.insertOutboxEvent(ctx, tx, order, domain.EventOrderCreated, order.CreatedAt)
	})
}

// consumeCartLines deletes the snapshotted lines. A line that is gone or has
// another quantity was taken by a concurrent checkout or edited since the
// snapshot, and the whole reservation is abandoned with ErrCartChanged.
func (r *Repository) consumeCartLines(ctx context.Context, tx *sql.Tx, buyerID int64, lines []domain.CartItem) error {
	for _, l := range lines {
		res, err := tx.ExecContext(ctx,
			r.q(`DELETE FROM cart_items WHERE id = ? AND buyer_id = ? AND product_id = ? AND quantity = ?`),
			l.ID, buyerID, l.ProductID, l.Quantity)
		if err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		if err := expectOneRow(res, ErrCartChanged); err != nil {
			return err
		}
	}
	return nil
}

// decrementStock applies one staged decrement. The WHERE clause is the
// reservation check: it is evaluated against the latest committed row, so a
// concurrent checkout that took the stock first makes this one affect no rows.
// Active flips to false when the stock reaches zero.
func (r *Repository) decrementStock(ctx context.Context, tx *sql.Tx, d domain.StockDecrement, now time.Time) error {
	query := `UPDATE products
	          SET stock = stock - ?,
	              active = CASE WHEN stock - ? = 0 THEN FALSE ELSE active END,
	              updated_at = ?
	          WHERE id = ? AND active AND stock >= ?`
	res, err := tx.ExecContext(ctx, r.q(query), d.Quantity, d.Quantity, now, d.ProductID, d.Quantity)
	if err != nil {
		return fmt.Errorf("decrement stock for product %d: %w", d.ProductID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var (
		stock  int
		active bool
	)
	err = tx.QueryRowContext(ctx, r.q(`SELECT stock, active FROM products WHERE id = ?`), d.ProductID).Scan(&stock, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ProductUnavailableError{ProductID: d.ProductID}
	}
	if err != nil {
		return fmt.Errorf("query stock for product %d: %w", d.ProductID, err)
	}
	if !active && stock > 0 {
		return &domain.ProductUnavailableError{ProductID: d.ProductID}
	}
	return &domain.InsufficientStockError{ProductID: d.ProductID, Requested: d.Quantity, Available: stock}
}

func (r *Repository) GetOrderIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT order_id FROM checkout_idempotency WHERE idempotency_key = ?`), key).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query idempotency key: %w", err)
	}
	return orderID, nil
}

const orderColumns = `id, buyer_id, buyer_email, status, total_amount, currency, payment_id, created_at, updated_at`

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrOrderNotFound
	}

	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	if order.Items, err = r.orderItems(ctx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrdersByBuyer returns one page of the buyer's orders, newest first, and
// the total number of orders the buyer has.
func (r *Repository) ListOrdersByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]*domain.Order, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM orders WHERE buyer_id = ?`), buyerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders by buyer: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT `+orderColumns+` FROM orders WHERE buyer_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		buyerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders by buyer: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, order := range orders {
		if order.Items, err = r.orderItems(ctx, order.ID); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// GetLatestUnpaidOrder returns the buyer's newest pending order that has no
// payment attempt yet.
func (r *Repository) GetLatestUnpaidOrder(ctx context.Context, buyerID int64) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		r.q(`SELECT `+orderColumns+` FROM orders o
		     WHERE o.buyer_id = ? AND o.status = ?
		       AND NOT EXISTS (SELECT 1 FROM payment_attempts p WHERE p.order_id = o.id)
		     ORDER BY o.created_at DESC, o.id
		     LIMIT 1`),
		buyerID, string(domain.OrderStatusPending))
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query unpaid order: %w", err)
	}

	if order.Items, err = r.orderItems(ctx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order     domain.Order
		paymentID sql.NullString
	)
	if err := row.Scan(
		&order.ID,
		&order.BuyerID,
		&order.BuyerEmail,
		&order.Status,
		&order.TotalAmount,
		&order.Currency,
		&paymentID,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if paymentID.Valid {
		order.PaymentID = &paymentID.String
	}
	return &order, nil
}

func (r *Repository) orderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT product_id, quantity, unit_price, line_total FROM order_items WHERE order_id = ? ORDER BY id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// UpdateOrderStatus applies a confirmation signal. Only a pending order is
// changed; the returned status is the one the order had before the call.
// Repeating the current terminal status is a no-op, contradicting it fails
// with domain.ErrInconsistentStatusTransition.
func (r *Repository) UpdateOrderStatus(ctx context.Context, orderID string, to domain.OrderStatus) (domain.OrderStatus, bool, error) {
	if !to.IsTerminal() {
		return "", false, domain.ErrInvalidStatus
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return "", false, domain.ErrOrderNotFound
	}

	var (
		from    domain.OrderStatus
		changed bool
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			r.q(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
			string(to), now, orderID, string(domain.OrderStatusPending))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		row := tx.QueryRowContext(ctx, r.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), orderID)
		order, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("query order by id: %w", err)
		}

		if n == 1 {
			from, changed = domain.OrderStatusPending, true
			return r.insertOutboxEvent(ctx, tx, order, domain.EventTypeFor(to), now)
		}

		from = order.Status
		changed, err = domain.Transition(from, to)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return from, false, err
	}
	return from, changed, nil
}

// AttachPayment records the gateway's payment for the order.
func (r *Repository) AttachPayment(ctx context.Context, attempt *domain.PaymentAttempt) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			r.q(`INSERT INTO payment_attempts (order_id, payment_id, status, confirmation_url, created_at) VALUES (?, ?, ?, ?, ?)`),
			attempt.OrderID, attempt.PaymentID, attempt.Status, attempt.ConfirmationURL, attempt.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrPaymentAlreadyAttached
			}
			return fmt.Errorf("insert payment attempt: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			r.q(`UPDATE orders SET payment_id = ?, updated_at = ? WHERE id = ?`),
			attempt.PaymentID, attempt.CreatedAt, attempt.OrderID)
		if err != nil {
			return fmt.Errorf("set order payment: %w", err)
		}
		return expectOneRow(res, domain.ErrOrderNotFound)
	})
}

func (r *Repository) GetPaymentAttempt(ctx context.Context, orderID string) (*domain.PaymentAttempt, error) {
	var p domain.PaymentAttempt
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT order_id, payment_id, status, confirmation_url, created_at FROM payment_attempts WHERE order_id = ?`), orderID).
		Scan(&p.OrderID, &p.PaymentID, &p.Status, &p.ConfirmationURL, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment attempt: %w", err)
	}
	return &p, nil
}

func (r *Repository) GetOrderIDByPaymentID(ctx context.Context, paymentID string) (string, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT order_id FROM payment_attempts WHERE payment_id = ?`), paymentID).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPaymentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query payment attempt by payment id: %w", err)
	}
	return orderID, nil
}

// ListPendingPayments returns payment attempts created before olderThan whose
// order is still pending, oldest first.
func (r *Repository) ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT p.order_id, p.payment_id, p.status, p.confirmation_url, p.created_at
		     FROM payment_attempts p
		     JOIN orders o ON o.id = p.order_id
		     WHERE o.status = ? AND p.created_at < ?
		     ORDER BY p.created_at
		     LIMIT ?`),
		string(domain.OrderStatusPending), olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending payments: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.PaymentAttempt
	for rows.Next() {
		var p domain.PaymentAttempt
		if err := rows.Scan(&p.OrderID, &p.PaymentID, &p.Status, &p.ConfirmationURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment attempt row: %w", err)
		}
		attempts = append(attempts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return attempts, nil
}

type orderEvent struct {
	EventID     string             `json:"event_id"`
	EventType   string             `json:"event_type"`
	OrderID     string             `json:"order_id"`
	BuyerID     int64              `json:"buyer_id"`
	Status      domain.OrderStatus `json:"status"`
	TotalAmount string             `json:"total_amount"`
	Currency    string             `json:"currency"`
	Items       []domain.OrderItem `json:"items,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

func (r *Repository) insertOutboxEvent(ctx context.Context, tx *sql.Tx, order *domain.Order, eventType string, now time.Time) error {
	event := orderEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Currency:    order.Currency,
		Items:       order.Items,
		OccurredAt:  now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		r.q(`INSERT INTO outbox_events (event_id, aggregate_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`),
		event.EventID, order.ID, eventType, string(payload), now)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
