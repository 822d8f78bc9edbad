package qpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Per-operation timeouts. Every call returns control to the caller on
// timeout; there is no cancellation beyond the request context.
const (
	authTimeout    = 20 * time.Second
	refreshTimeout = 15 * time.Second
	invoiceTimeout = 30 * time.Second
	paymentTimeout = 20 * time.Second
	ebarimtTimeout = 30 * time.Second
)

// TokenResponse is the shape of both auth and refresh responses. Some
// processor deployments return `token` instead of `access_token`.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// BearerToken returns whichever token field the response carried.
func (t *TokenResponse) BearerToken() string {
	if t.AccessToken != "" {
		return t.AccessToken
	}
	return t.Token
}

// InvoiceRequest is the invoice creation payload.
type InvoiceRequest struct {
	InvoiceCode         string               `json:"invoice_code"`
	SenderInvoiceNo     string               `json:"sender_invoice_no"`
	InvoiceReceiverCode string               `json:"invoice_receiver_code"`
	SenderBranchCode    string               `json:"sender_branch_code"`
	InvoiceDescription  string               `json:"invoice_description"`
	Amount              float64              `json:"amount"`
	CallbackURL         string               `json:"callback_url"`
	InvoiceReceiverData *InvoiceReceiverData `json:"invoice_receiver_data,omitempty"`
	EnableExpiry        string               `json:"enable_expiry"`
	AllowPartial        bool                 `json:"allow_partial"`
	AllowExceed         bool                 `json:"allow_exceed"`
}

type InvoiceReceiverData struct {
	Register string `json:"register"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// InvoiceResponse carries the created invoice id plus the raw body for
// persistence on the order.
type InvoiceResponse struct {
	InvoiceID string `json:"invoice_id"`
	QRText    string `json:"qr_text"`
	QRImage   string `json:"qr_image"`
	ShortURL  string `json:"qPay_shortUrl"`
	Raw       string `json:"-"`
}

// CheckRequest asks the processor which payments exist for an object.
type CheckRequest struct {
	ObjectType string      `json:"object_type"` // INVOICE | PAYMENT
	ObjectID   string      `json:"object_id"`
	Offset     CheckOffset `json:"offset"`
}

type CheckOffset struct {
	PageNumber int `json:"page_number"`
	PageLimit  int `json:"page_limit"`
}

// ListRequest filters the payment list endpoint.
type ListRequest struct {
	ObjectType string      `json:"object_type"`
	ObjectID   string      `json:"object_id"`
	StartDate  string      `json:"start_date,omitempty"`
	EndDate    string      `json:"end_date,omitempty"`
	Offset     CheckOffset `json:"offset"`
}

// PaymentEntry is one row of a check/list response. Some responses nest
// payments inside an invoice-level row.
type PaymentEntry struct {
	PaymentID     string         `json:"payment_id"`
	Status        string         `json:"payment_status"`
	StatusAlt     string         `json:"status"`
	Amount        string         `json:"payment_amount"`
	Payments      []PaymentEntry `json:"payments,omitempty"`
	PaymentDate   string         `json:"payment_date,omitempty"`
	PaymentWallet string         `json:"payment_wallet,omitempty"`
}

// EffectiveStatus returns whichever status field the row carried.
func (p PaymentEntry) EffectiveStatus() string {
	if p.Status != "" {
		return p.Status
	}
	return p.StatusAlt
}

// CheckResponse is the body of payment check and list calls.
type CheckResponse struct {
	Count int            `json:"count"`
	Data  []PaymentEntry `json:"data"`
	Rows  []PaymentEntry `json:"rows"`
}

// Entries merges the two row containers different endpoints use.
func (r *CheckResponse) Entries() []PaymentEntry {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Rows
}

// EbarimtRequest is the tax receipt creation payload.
type EbarimtRequest struct {
	PaymentID          string `json:"payment_id"`
	ReceiverType       string `json:"ebarimt_receiver_type"`
	Receiver           string `json:"ebarimt_receiver,omitempty"`
	DistrictCode       string `json:"district_code,omitempty"`
	ClassificationCode string `json:"classification_code,omitempty"`
}

// Validate checks the permanent preconditions of a receipt submission.
func (r EbarimtRequest) Validate() error {
	var problems []string
	if r.PaymentID == "" {
		problems = append(problems, "payment_id is required")
	}
	if r.ReceiverType == "" {
		problems = append(problems, "ebarimt_receiver_type is required")
	} else if r.ReceiverType != "CITIZEN" && r.ReceiverType != "COMPANY" {
		problems = append(problems, "ebarimt_receiver_type must be CITIZEN or COMPANY")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Client is the thin HTTP boundary to the processor. It holds no state
// beyond the transport; tokens are supplied per call.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(logger *zerolog.Logger) *Client {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "qpay-client").Logger()
	}
	return &Client{
		httpClient: &http.Client{},
		logger:     base,
	}
}

// Authenticate performs the client-credentials flow with Basic auth.
func (c *Client) Authenticate(ctx context.Context, clientID, clientSecret, authURL string) (*TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "auth", Err: err}
	}
	req.SetBasicAuth(clientID, clientSecret)

	status, body, err := c.do(req)
	if err != nil {
		return nil, &AuthError{Err: &TransportError{Op: "auth", Err: err}}
	}
	if status >= 400 {
		return nil, &AuthError{Err: &APIError{Op: "auth", Status: status, Body: string(body)}}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &AuthError{Err: fmt.Errorf("decode auth response: %w", err)}
	}
	if tr.BearerToken() == "" {
		return nil, &AuthError{Err: fmt.Errorf("no access token in response")}
	}
	return &tr, nil
}

// Refresh exchanges a refresh token for a new bearer token.
func (c *Client) Refresh(ctx context.Context, refreshToken, refreshURL string) (*TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "refresh", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	status, body, err := c.do(req)
	if err != nil {
		return nil, &TransportError{Op: "refresh", Err: err}
	}
	if status >= 400 {
		return nil, &APIError{Op: "refresh", Status: status, Body: string(body)}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if tr.BearerToken() == "" {
		return nil, &APIError{Op: "refresh", Status: status, Body: "no token in refresh response"}
	}
	return &tr, nil
}

// CreateInvoice creates a payable invoice for an order.
func (c *Client) CreateInvoice(ctx context.Context, token, invoiceURL string, payload InvoiceRequest) (*InvoiceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, invoiceTimeout)
	defer cancel()

	status, body, err := c.doJSON(ctx, http.MethodPost, invoiceURL, token, "", payload)
	if err != nil {
		return nil, &TransportError{Op: "invoice create", Err: err}
	}
	if status >= 400 {
		return nil, &APIError{Op: "invoice create", Status: status, Body: string(body)}
	}

	var inv InvoiceResponse
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}
	inv.Raw = string(body)
	return &inv, nil
}

// CancelInvoice voids an unpaid invoice.
func (c *Client) CancelInvoice(ctx context.Context, token, cancelURL string) error {
	ctx, cancel := context.WithTimeout(ctx, paymentTimeout)
	defer cancel()

	status, body, err := c.doJSON(ctx, http.MethodDelete, cancelURL, token, "", nil)
	if err != nil {
		return &TransportError{Op: "invoice cancel", Err: err}
	}
	if status >= 400 {
		return &APIError{Op: "invoice cancel", Status: status, Body: string(body)}
	}
	return nil
}

// CheckPayment lists payments recorded against an invoice or payment id.
func (c *Client) CheckPayment(ctx context.Context, token, checkURL string, payload CheckRequest) (*CheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, paymentTimeout)
	defer cancel()

	status, body, err := c.doJSON(ctx, http.MethodPost, checkURL, token, "", payload)
	if err != nil {
		return nil, &TransportError{Op: "payment check", Err: err}
	}
	if status >= 400 {
		return nil, &APIError{Op: "payment check", Status: status, Body: string(body)}
	}

	var out CheckResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode check response: %w", err)
	}
	return &out, nil
}

// GetPayment fetches a single payment's details.
func (c *Client) GetPayment(ctx context.Context, token, paymentURL string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, paymentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, paymentURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "payment get", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	status, body, err := c.do(req)
	if err != nil {
		return nil, &TransportError{Op: "payment get", Err: err}
	}
	if status >= 400 {
		return nil, &APIError{Op: "payment get", Status: status, Body: string(body)}
	}
	return json.RawMessage(body), nil
}

// ListPayments queries the payment list endpoint with paging.
func (c *Client) ListPayments(ctx context.Context, token, listURL string, payload ListRequest) (*CheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, invoiceTimeout)
	defer cancel()

	status, body, err := c.doJSON(ctx, http.MethodPost, listURL, token, "", payload)
	if err != nil {
		return nil, &TransportError{Op: "payment list", Err: err}
	}
	if status >= 400 {
		return nil, &APIError{Op: "payment list", Status: status, Body: string(body)}
	}

	var out CheckResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return &out, nil
}

// CancelPayment voids a card payment. Only card transactions can be
// cancelled upstream.
func (c *Client) CancelPayment(ctx context.Context, token, cancelURL, callbackURL, note string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, paymentTimeout)
	defer cancel()

	body := map[string]string{}
	if callbackURL != "" {
		body["callback_url"] = callbackURL
	}
	if note != "" {
		body["note"] = note
	}

	status, respBody, err := c.doJSON(ctx, http.MethodDelete, cancelURL, token, "", body)
	if err != nil {
		return nil, &TransportError{Op: "payment cancel", Err: err}
	}
	if status >= 400 {
		return nil, &APIError{Op: "payment cancel", Status: status, Body: string(respBody)}
	}
	return json.RawMessage(respBody), nil
}

// RefundPayment issues a refund carrying the caller's idempotency key so
// the processor deduplicates retries. Returns the raw response body.
func (c *Client) RefundPayment(ctx context.Context, token, refundURL, paymentID, idempotencyKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, paymentTimeout)
	defer cancel()

	payload := map[string]string{"payment_id": paymentID}
	status, body, err := c.doJSON(ctx, http.MethodDelete, refundURL, token, idempotencyKey, payload)
	if err != nil {
		return "", &TransportError{Op: "refund", Err: err}
	}
	if status >= 400 {
		return "", &APIError{Op: "refund", Status: status, Body: string(body)}
	}
	return string(body), nil
}

// CreateEbarimt submits a tax receipt for a completed payment.
func (c *Client) CreateEbarimt(ctx context.Context, token, ebarimtURL string, payload EbarimtRequest) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, ebarimtTimeout)
	defer cancel()

	status, body, err := c.doJSON(ctx, http.MethodPost, ebarimtURL, token, "", payload)
	if err != nil {
		return "", &TransportError{Op: "ebarimt create", Err: err}
	}
	if status >= 400 {
		return "", &APIError{Op: "ebarimt create", Status: status, Body: string(body)}
	}
	return string(body), nil
}

// CancelEbarimt voids a previously issued receipt.
func (c *Client) CancelEbarimt(ctx context.Context, token, cancelURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ebarimtTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, cancelURL, nil)
	if err != nil {
		return "", &TransportError{Op: "ebarimt cancel", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	status, body, err := c.do(req)
	if err != nil {
		return "", &TransportError{Op: "ebarimt cancel", Err: err}
	}
	if status >= 400 {
		return "", &APIError{Op: "ebarimt cancel", Status: status, Body: string(body)}
	}
	return string(body), nil
}

func (c *Client) doJSON(ctx context.Context, method, url, token, idempotencyKey string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode payload: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("request failed")
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("qpay request")

	return resp.StatusCode, body, nil
}
