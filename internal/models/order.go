package models

import "time"

// Order is the minimal slice of the order platform this service needs:
// payment metadata, billing contact for receipts, and a note trail.
type Order struct {
	ID              int64     `json:"id"`
	Currency        string    `json:"currency"`
	Amount          float64   `json:"amount"`
	Status          string    `json:"status"`
	InvoiceID       string    `json:"invoice_id"`
	PaymentID       string    `json:"payment_id"`
	InvoiceResponse string    `json:"invoice_response"`
	EbarimtResponse string    `json:"ebarimt_response"`
	BillingName     string    `json:"billing_name"`
	BillingEmail    string    `json:"billing_email"`
	BillingPhone    string    `json:"billing_phone"`
	BillingCompany  string    `json:"billing_company"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OrderNote is an append-only annotation on an order.
type OrderNote struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
