package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qpaygate/internal/models"
)

const refundColumns = `id, order_id, payment_id, refund_id, idempotency_key, status, attempts, last_error, response, created_at, updated_at`

// InsertRefund creates a refund row. The unique idempotency key makes a
// second insert for the same (order, payment) pair fail, which callers
// treat as "already recorded".
func (db *DB) InsertRefund(ctx context.Context, refund *models.RefundRecord) error {
	now := time.Now()
	query := `INSERT INTO refunds (order_id, payment_id, refund_id, idempotency_key, status, attempts, last_error, response, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		refund.OrderID,
		refund.PaymentID,
		refund.RefundID,
		refund.IdempotencyKey,
		refund.Status,
		refund.Attempts,
		refund.LastError,
		refund.Response,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	refund.ID = id
	refund.CreatedAt = now
	refund.UpdatedAt = now

	return nil
}

// GetRefundByKey looks up a refund by its idempotency key. Returns
// (nil, nil) when no row exists.
func (db *DB) GetRefundByKey(ctx context.Context, key string) (*models.RefundRecord, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE idempotency_key = ?`
	return db.scanRefund(db.db.QueryRowContext(ctx, query, key))
}

// GetRefundByID looks up a refund by row id. Returns (nil, nil) when no
// row exists.
func (db *DB) GetRefundByID(ctx context.Context, id int64) (*models.RefundRecord, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = ?`
	return db.scanRefund(db.db.QueryRowContext(ctx, query, id))
}

// RecordRefundFailure counts a failed attempt and keeps the row pending so
// the retry queue picks it up again.
func (db *DB) RecordRefundFailure(ctx context.Context, id int64, errMsg, response string) error {
	query := `UPDATE refunds SET attempts = attempts + 1, last_error = ?, response = ?, status = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, errMsg, response, models.RefundStatusPending, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record refund failure: %w", err)
	}
	return nil
}

// MarkRefundSucceeded finalizes a refund with the processor's refund id
// and raw response.
func (db *DB) MarkRefundSucceeded(ctx context.Context, id int64, refundID, response string) error {
	query := `UPDATE refunds SET status = ?, refund_id = ?, response = ?, last_error = NULL, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, models.RefundStatusSucceeded, refundID, response, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark refund succeeded: %w", err)
	}
	return nil
}

// SetRefundStatus moves a refund to an explicit status (operator actions).
func (db *DB) SetRefundStatus(ctx context.Context, id int64, status models.RefundStatus, errMsg string) error {
	query := `UPDATE refunds SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, status, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set refund status: %w", err)
	}
	return nil
}

// ListRefunds returns refunds, optionally filtered by status, newest first.
func (db *DB) ListRefunds(ctx context.Context, status models.RefundStatus) ([]models.RefundRecord, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []models.RefundRecord
	for rows.Next() {
		var r models.RefundRecord
		err := rows.Scan(
			&r.ID, &r.OrderID, &r.PaymentID, &r.RefundID, &r.IdempotencyKey, &r.Status, &r.Attempts, &r.LastError, &r.Response, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

func (db *DB) scanRefund(row *sql.Row) (*models.RefundRecord, error) {
	var r models.RefundRecord
	err := row.Scan(
		&r.ID, &r.OrderID, &r.PaymentID, &r.RefundID, &r.IdempotencyKey, &r.Status, &r.Attempts, &r.LastError, &r.Response, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan refund: %w", err)
	}
	return &r, nil
}
