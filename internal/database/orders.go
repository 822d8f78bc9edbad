package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qpaygate/internal/models"
)

const orderColumns = `id, currency, amount, status, invoice_id, payment_id, invoice_response, ebarimt_response, billing_name, billing_email, billing_phone, billing_company, created_at, updated_at`

// CreateOrder inserts an order row.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	now := time.Now()
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	if order.Currency == "" {
		order.Currency = "MNT"
	}

	query := `INSERT INTO orders (currency, amount, status, invoice_id, payment_id, invoice_response, ebarimt_response, billing_name, billing_email, billing_phone, billing_company, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		order.Currency,
		order.Amount,
		order.Status,
		order.InvoiceID,
		order.PaymentID,
		order.InvoiceResponse,
		order.EbarimtResponse,
		order.BillingName,
		order.BillingEmail,
		order.BillingPhone,
		order.BillingCompany,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	order.ID = id
	order.CreatedAt = now
	order.UpdatedAt = now

	return nil
}

// GetOrder returns an order by id. Returns (nil, nil) when no row exists.
func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	return db.scanOrder(db.db.QueryRowContext(ctx, query, id))
}

// FindOrderByInvoiceID returns the order holding the given invoice id.
func (db *DB) FindOrderByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE invoice_id = ? ORDER BY id DESC LIMIT 1`
	return db.scanOrder(db.db.QueryRowContext(ctx, query, invoiceID))
}

// FindOrderByPaymentID returns the order holding the given payment id.
func (db *DB) FindOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_id = ? ORDER BY id DESC LIMIT 1`
	return db.scanOrder(db.db.QueryRowContext(ctx, query, paymentID))
}

// UpdateOrderStatus moves an order to a new lifecycle status.
func (db *DB) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// SetOrderInvoice stores the created invoice id and raw response.
func (db *DB) SetOrderInvoice(ctx context.Context, id int64, invoiceID, response string) error {
	query := `UPDATE orders SET invoice_id = ?, invoice_response = ?, status = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, invoiceID, response, models.OrderStatusAwaitingPay, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set order invoice: %w", err)
	}
	return nil
}

// SetOrderPayment stores the confirmed payment id.
func (db *DB) SetOrderPayment(ctx context.Context, id int64, paymentID string) error {
	query := `UPDATE orders SET payment_id = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, paymentID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set order payment: %w", err)
	}
	return nil
}

// SetOrderEbarimt stores the raw receipt response.
func (db *DB) SetOrderEbarimt(ctx context.Context, id int64, response string) error {
	query := `UPDATE orders SET ebarimt_response = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, response, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set order ebarimt: %w", err)
	}
	return nil
}

// AddOrderNote appends a note to an order's trail.
func (db *DB) AddOrderNote(ctx context.Context, orderID int64, note string) error {
	query := `INSERT INTO order_notes (order_id, note, created_at) VALUES (?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, orderID, note, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add order note: %w", err)
	}
	return nil
}

// GetOrderNotes returns an order's notes, oldest first.
func (db *DB) GetOrderNotes(ctx context.Context, orderID int64) ([]models.OrderNote, error) {
	query := `SELECT id, order_id, note, created_at FROM order_notes WHERE order_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := db.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order notes: %w", err)
	}
	defer rows.Close()

	var notes []models.OrderNote
	for rows.Next() {
		var n models.OrderNote
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Note, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (db *DB) scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.Currency, &o.Amount, &o.Status, &o.InvoiceID, &o.PaymentID, &o.InvoiceResponse, &o.EbarimtResponse,
		&o.BillingName, &o.BillingEmail, &o.BillingPhone, &o.BillingCompany, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}
