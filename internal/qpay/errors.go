package qpay

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks a missing row, order or payment reference.
var ErrNotFound = errors.New("not found")

// ErrRefundPending signals that a refund could not complete now but has
// been queued; callers treat it as a soft success.
var ErrRefundPending = errors.New("refund scheduled for retry")

// AuthError means a bearer token could not be obtained.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("qpay auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError wraps network-level failures (DNS, connect, timeout).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("qpay %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is an upstream HTTP response with status >= 400.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("qpay %s: http %d: %s", e.Op, e.Status, body)
}

// ValidationError is a permanent local failure: the payload cannot succeed
// without operator intervention, so it is never retried.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
