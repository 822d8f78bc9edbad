package models

import "time"

// TaskType identifies the kind of work a queued task carries. The set is
// closed; the worker dispatches over it exhaustively.
type TaskType string

const (
	TaskInvoiceCreateRetry TaskType = "invoice_create_retry"
	TaskEbarimtRetry       TaskType = "ebarimt_retry"
	TaskRefundRetry        TaskType = "refund_retry"
)

// QueueTask is a durable unit of asynchronous work in the outbound queue.
type QueueTask struct {
	ID        int64     `json:"id"`
	Type      TaskType  `json:"type"`
	OrderID   *int64    `json:"order_id"`
	PaymentID *string   `json:"payment_id"`
	Payload   string    `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error"`
	NextRun   time.Time `json:"next_run"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
