package domain

import (
	"context"
	"encoding/json"
	"time"

	"qpaygate/internal/qpay"
)

// KeyValueStore is the keyed state abstraction behind the token cache and
// refresh backoff counters: get/set/delete by key with an optional TTL.
// Implementations must treat a missing key as (value="", ok=false, nil).
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// AuthClient is the token-acquisition slice of the processor API.
type AuthClient interface {
	Authenticate(ctx context.Context, clientID, clientSecret, authURL string) (*qpay.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken, refreshURL string) (*qpay.TokenResponse, error)
}

// PaymentClient is the full processor API surface the services call.
type PaymentClient interface {
	AuthClient
	CreateInvoice(ctx context.Context, token, invoiceURL string, payload qpay.InvoiceRequest) (*qpay.InvoiceResponse, error)
	CancelInvoice(ctx context.Context, token, cancelURL string) error
	CheckPayment(ctx context.Context, token, checkURL string, payload qpay.CheckRequest) (*qpay.CheckResponse, error)
	GetPayment(ctx context.Context, token, paymentURL string) (json.RawMessage, error)
	ListPayments(ctx context.Context, token, listURL string, payload qpay.ListRequest) (*qpay.CheckResponse, error)
	CancelPayment(ctx context.Context, token, cancelURL, callbackURL, note string) (json.RawMessage, error)
	RefundPayment(ctx context.Context, token, refundURL, paymentID, idempotencyKey string) (string, error)
	CreateEbarimt(ctx context.Context, token, ebarimtURL string, payload qpay.EbarimtRequest) (string, error)
	CancelEbarimt(ctx context.Context, token, cancelURL string) (string, error)
}

// TokenProvider hands out valid bearer tokens, caching and refreshing as
// needed.
type TokenProvider interface {
	GetToken(ctx context.Context, creds qpay.Credentials) (string, error)
}

// Notifier delivers operator alerts (dead-lettered tasks and the like).
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}
