package models

import "time"

// RefundStatus is the lifecycle state of a refund intent.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
	// RefundStatusManual marks a row an operator took over; automatic
	// retries skip it.
	RefundStatusManual RefundStatus = "manual"
)

// RefundRecord is one logical refund intent for an (order, payment) pair.
// The idempotency key is derived deterministically from that pair, so any
// number of retry attempts maps to at most one effective upstream refund.
type RefundRecord struct {
	ID             int64        `json:"id"`
	OrderID        int64        `json:"order_id"`
	PaymentID      string       `json:"payment_id"`
	RefundID       string       `json:"refund_id"`
	IdempotencyKey string       `json:"idempotency_key"`
	Status         RefundStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      *string      `json:"last_error"`
	Response       string       `json:"response"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
