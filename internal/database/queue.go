package database

import (
	"context"
	"fmt"
	"time"

	"qpaygate/internal/models"
)

// EnqueueTask inserts a task into the outbound queue. Tasks with a zero
// NextRun become due immediately.
func (db *DB) EnqueueTask(ctx context.Context, task *models.QueueTask) error {
	now := time.Now()
	if task.NextRun.IsZero() {
		task.NextRun = now
	}

	query := `INSERT INTO outbound_queue (task_type, order_id, payment_id, payload, attempts, last_error, next_run, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		task.Type,
		task.OrderID,
		task.PaymentID,
		task.Payload,
		task.Attempts,
		task.LastError,
		task.NextRun,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now

	return nil
}

// GetDueTasks returns up to limit tasks whose next_run has passed, oldest
// deadline first. Ties on next_run break by id so a retrying task cannot
// starve a newer one.
func (db *DB) GetDueTasks(ctx context.Context, limit int) ([]models.QueueTask, error) {
	query := `SELECT id, task_type, order_id, payment_id, payload, attempts, last_error, next_run, created_at, updated_at
              FROM outbound_queue
              WHERE next_run <= ?
              ORDER BY next_run ASC, id ASC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.QueueTask
	for rows.Next() {
		var t models.QueueTask
		err := rows.Scan(
			&t.ID, &t.Type, &t.OrderID, &t.PaymentID, &t.Payload, &t.Attempts, &t.LastError, &t.NextRun, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskRetry records a failed attempt and schedules the next run.
func (db *DB) UpdateTaskRetry(ctx context.Context, id int64, errMsg string, nextRun time.Time) error {
	query := `UPDATE outbound_queue SET attempts = attempts + 1, last_error = ?, next_run = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, errMsg, nextRun, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update task retry: %w", err)
	}
	return nil
}

// DeleteTask removes a task from the queue.
func (db *DB) DeleteTask(ctx context.Context, id int64) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM outbound_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ListQueueTasks returns the whole queue for the admin API, due-first.
func (db *DB) ListQueueTasks(ctx context.Context) ([]models.QueueTask, error) {
	query := `SELECT id, task_type, order_id, payment_id, payload, attempts, last_error, next_run, created_at, updated_at
              FROM outbound_queue ORDER BY next_run ASC, id ASC`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.QueueTask
	for rows.Next() {
		var t models.QueueTask
		err := rows.Scan(
			&t.ID, &t.Type, &t.OrderID, &t.PaymentID, &t.Payload, &t.Attempts, &t.LastError, &t.NextRun, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountQueueTasks returns the current queue depth.
func (db *DB) CountQueueTasks(ctx context.Context) (int64, error) {
	var count int64
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbound_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue tasks: %w", err)
	}
	return count, nil
}
