package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"qpaygate/internal/config"
	"qpaygate/internal/database"
	"qpaygate/internal/events"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeTokens hands out a fixed bearer token.
type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) GetToken(ctx context.Context, creds qpay.Credentials) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "tok", nil
}

// fakeClient records calls and returns canned responses per operation.
type fakeClient struct {
	invoiceResp    *qpay.InvoiceResponse
	invoiceErr     error
	invoiceCalls   int
	lastInvoiceReq qpay.InvoiceRequest

	checkResp  *qpay.CheckResponse
	checkErr   error
	checkCalls int

	refundBody  string
	refundErr   error
	refundCalls int
	refundKeys  []string

	ebarimtBody    string
	ebarimtErr     error
	ebarimtCalls   int
	lastEbarimtReq qpay.EbarimtRequest

	ebarimtCancelCalls   int
	lastEbarimtCancelURL string
}

func (f *fakeClient) Authenticate(ctx context.Context, clientID, clientSecret, authURL string) (*qpay.TokenResponse, error) {
	return &qpay.TokenResponse{AccessToken: "tok", ExpiresIn: 3600}, nil
}

func (f *fakeClient) Refresh(ctx context.Context, refreshToken, refreshURL string) (*qpay.TokenResponse, error) {
	return &qpay.TokenResponse{AccessToken: "tok", ExpiresIn: 3600}, nil
}

func (f *fakeClient) CreateInvoice(ctx context.Context, token, invoiceURL string, payload qpay.InvoiceRequest) (*qpay.InvoiceResponse, error) {
	f.invoiceCalls++
	f.lastInvoiceReq = payload
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	return f.invoiceResp, nil
}

func (f *fakeClient) CancelInvoice(ctx context.Context, token, cancelURL string) error {
	return nil
}

func (f *fakeClient) CheckPayment(ctx context.Context, token, checkURL string, payload qpay.CheckRequest) (*qpay.CheckResponse, error) {
	f.checkCalls++
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.checkResp, nil
}

func (f *fakeClient) GetPayment(ctx context.Context, token, paymentURL string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeClient) ListPayments(ctx context.Context, token, listURL string, payload qpay.ListRequest) (*qpay.CheckResponse, error) {
	return f.checkResp, f.checkErr
}

func (f *fakeClient) CancelPayment(ctx context.Context, token, cancelURL, callbackURL, note string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeClient) RefundPayment(ctx context.Context, token, refundURL, paymentID, idempotencyKey string) (string, error) {
	f.refundCalls++
	f.refundKeys = append(f.refundKeys, idempotencyKey)
	if f.refundErr != nil {
		return "", f.refundErr
	}
	return f.refundBody, nil
}

func (f *fakeClient) CreateEbarimt(ctx context.Context, token, ebarimtURL string, payload qpay.EbarimtRequest) (string, error) {
	f.ebarimtCalls++
	f.lastEbarimtReq = payload
	if f.ebarimtErr != nil {
		return "", f.ebarimtErr
	}
	return f.ebarimtBody, nil
}

func (f *fakeClient) CancelEbarimt(ctx context.Context, token, cancelURL string) (string, error) {
	f.ebarimtCancelCalls++
	f.lastEbarimtCancelURL = cancelURL
	return "", nil
}

func newTestService(t *testing.T, client *fakeClient, cfg config.QPayConfig) (*Service, *database.DB) {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	creds := qpay.Credentials{
		ClientID:        "TEST_MERCHANT",
		InvoiceCode:     "TEST_INVOICE",
		BaseURL:         "https://merchant-sandbox.qpay.mn",
		AuthURL:         "https://merchant-sandbox.qpay.mn/v2/auth/token",
		InvoiceURL:      "https://merchant-sandbox.qpay.mn/v2/invoice",
		PaymentCheckURL: "https://merchant-sandbox.qpay.mn/v2/payment/check",
		EbarimtURL:      "https://merchant-sandbox.qpay.mn/v2/ebarimt_v3/create",
	}
	svc := New(db, client, &fakeTokens{}, creds, cfg, events.NewEventBus(), t.TempDir(), &logger)
	return svc, db
}

func createTestOrder(t *testing.T, db *database.DB, mutate func(*models.Order)) *models.Order {
	t.Helper()
	order := &models.Order{
		Amount:       50000,
		BillingName:  "B. Bold",
		BillingEmail: "bold@example.mn",
		BillingPhone: "99112233",
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, db.CreateOrder(context.Background(), order))
	return order
}
