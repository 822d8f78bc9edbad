package service

import (
	"context"
	"encoding/json"
	"fmt"

	"qpaygate/internal/models"
	"qpaygate/internal/qpay"
)

// CancelInvoice voids the order's unpaid invoice upstream and clears it
// locally.
func (s *Service) CancelInvoice(ctx context.Context, orderID int64) error {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return qpay.ErrNotFound
	}
	if order.InvoiceID == "" {
		return &qpay.ValidationError{Problems: []string{"order has no invoice to cancel"}}
	}

	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	if err := s.client.CancelInvoice(ctx, token, s.creds.InvoiceCancelURL(order.InvoiceID)); err != nil {
		return err
	}

	if err := s.db.SetOrderInvoice(ctx, order.ID, "", ""); err != nil {
		return err
	}
	if err := s.db.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending); err != nil {
		return err
	}
	if err := s.db.AddOrderNote(ctx, order.ID, fmt.Sprintf("Invoice %s cancelled", order.InvoiceID)); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("Failed to add order note")
	}
	return nil
}

// CancelPayment voids a card payment upstream. Only card transactions can
// be cancelled; anything else comes back as an APIError.
func (s *Service) CancelPayment(ctx context.Context, paymentID, note string) (json.RawMessage, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	callbackURL := s.cfg.CallbackBaseURL
	return s.client.CancelPayment(ctx, token, s.creds.PaymentCancelURL(paymentID), callbackURL, note)
}

// CancelEbarimt voids a previously issued tax receipt.
func (s *Service) CancelEbarimt(ctx context.Context, ebarimtID string) (string, error) {
	token, err := s.token(ctx)
	if err != nil {
		return "", err
	}
	return s.client.CancelEbarimt(ctx, token, s.creds.EbarimtCancelURL(ebarimtID))
}

// CancelOrderEbarimt voids the order's tax receipt upstream and clears it
// locally. When no receipt id is supplied the one stored on the order is
// used.
func (s *Service) CancelOrderEbarimt(ctx context.Context, orderID int64, ebarimtID string) error {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return qpay.ErrNotFound
	}
	if order.EbarimtResponse == "" {
		return &qpay.ValidationError{Problems: []string{"order has no tax receipt to cancel"}}
	}

	if ebarimtID == "" {
		ebarimtID = extractEbarimtID(order.EbarimtResponse)
	}
	if ebarimtID == "" {
		return &qpay.ValidationError{Problems: []string{"ebarimt_id is required"}}
	}

	if _, err := s.CancelEbarimt(ctx, ebarimtID); err != nil {
		return err
	}

	if err := s.db.SetOrderEbarimt(ctx, order.ID, ""); err != nil {
		return err
	}
	if err := s.db.AddOrderNote(ctx, order.ID, fmt.Sprintf("Tax receipt %s cancelled", ebarimtID)); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("Failed to add order note")
	}
	return nil
}

// extractEbarimtID pulls the receipt identifier out of the stored creation
// response when one is present.
func extractEbarimtID(body string) string {
	var parsed struct {
		EbarimtID string `json:"ebarimt_id"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return ""
	}
	if parsed.EbarimtID != "" {
		return parsed.EbarimtID
	}
	return parsed.ID
}
