package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qpaygate/internal/events"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"
)

// paidStatuses are the processor statuses that count as a settled payment.
var paidStatuses = map[string]bool{
	"PAID":      true,
	"SUCCESS":   true,
	"COMPLETED": true,
}

// CreateInvoice creates a payable invoice for the order. Transient
// processor failures are absorbed: the order moves to pending_invoice and
// a retry task is queued, so checkout never blocks on the processor.
func (s *Service) CreateInvoice(ctx context.Context, orderID int64) (*qpay.InvoiceResponse, error) {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, qpay.ErrNotFound
	}

	inv, err := s.createInvoiceOnce(ctx, order)
	if err == nil {
		return inv, nil
	}
	if qpay.IsPermanent(err) {
		return nil, err
	}

	// Soft failure: queue a retry and keep the order alive.
	if dbErr := s.db.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPendingInvoice); dbErr != nil {
		s.logger.Error().Err(dbErr).Int64("order_id", order.ID).Msg("Failed to mark order pending_invoice")
	}
	if dbErr := s.db.AddOrderNote(ctx, order.ID, fmt.Sprintf("Invoice creation failed, queued for retry: %v", err)); dbErr != nil {
		s.logger.Error().Err(dbErr).Int64("order_id", order.ID).Msg("Failed to add order note")
	}
	task := models.QueueTask{Type: models.TaskInvoiceCreateRetry, OrderID: &order.ID}
	if dbErr := s.db.EnqueueTask(ctx, &task); dbErr != nil {
		s.logger.Error().Err(dbErr).Int64("order_id", order.ID).Msg("Failed to enqueue invoice retry")
	}

	return nil, err
}

func (s *Service) createInvoiceOnce(ctx context.Context, order *models.Order) (*qpay.InvoiceResponse, error) {
	if !strings.EqualFold(order.Currency, "MNT") {
		return nil, &qpay.ValidationError{Problems: []string{fmt.Sprintf("unsupported currency %q, only MNT is accepted", order.Currency)}}
	}

	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}

	inv, err := s.client.CreateInvoice(ctx, token, s.creds.InvoiceURL, s.buildInvoiceRequest(order))
	if err != nil {
		return nil, err
	}
	if inv.InvoiceID == "" {
		return nil, fmt.Errorf("invoice response carried no invoice_id")
	}

	if err := s.db.SetOrderInvoice(ctx, order.ID, inv.InvoiceID, inv.Raw); err != nil {
		return nil, err
	}
	if err := s.db.AddOrderNote(ctx, order.ID, fmt.Sprintf("Invoice %s created", inv.InvoiceID)); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("Failed to add order note")
	}

	_ = s.bus.PublishJSON(events.EventInvoiceCreated, events.PaymentEventPayload{
		OrderID:   order.ID,
		InvoiceID: inv.InvoiceID,
		Amount:    order.Amount,
	})

	s.logger.Info().Int64("order_id", order.ID).Str("invoice_id", inv.InvoiceID).Msg("Invoice created")
	return inv, nil
}

func (s *Service) buildInvoiceRequest(order *models.Order) qpay.InvoiceRequest {
	enableExpiry := "false"
	if s.cfg.EnableExpiry {
		enableExpiry = "true"
	}

	req := qpay.InvoiceRequest{
		InvoiceCode:         s.creds.InvoiceCode,
		SenderInvoiceNo:     fmt.Sprintf("%d-%d", order.ID, time.Now().Unix()),
		InvoiceReceiverCode: fmt.Sprintf("%d", order.ID),
		SenderBranchCode:    s.cfg.BranchCode,
		InvoiceDescription:  fmt.Sprintf("Order #%d", order.ID),
		Amount:              order.Amount,
		CallbackURL:         fmt.Sprintf("%s/qpay/v1/callback?order_id=%d", strings.TrimRight(s.cfg.CallbackBaseURL, "/"), order.ID),
		EnableExpiry:        enableExpiry,
		AllowPartial:        s.cfg.AllowPartial,
		AllowExceed:         s.cfg.AllowExceed,
	}

	if order.BillingName != "" || order.BillingEmail != "" || order.BillingPhone != "" {
		req.InvoiceReceiverData = &qpay.InvoiceReceiverData{
			Name:  order.BillingName,
			Email: order.BillingEmail,
			Phone: order.BillingPhone,
		}
	}

	return req
}

// RetryInvoiceCreate is the queue handler for failed invoice creations.
// Orders that vanished or already hold an invoice drain the task quietly.
func (s *Service) RetryInvoiceCreate(ctx context.Context, task models.QueueTask) error {
	if task.OrderID == nil {
		return nil
	}
	order, err := s.db.GetOrder(ctx, *task.OrderID)
	if err != nil {
		return err
	}
	if order == nil || order.InvoiceID != "" {
		return nil
	}

	_, err = s.createInvoiceOnce(ctx, order)
	return err
}

// ReconcilePayment asks the processor for payments recorded against the
// object and returns the first settled payment id, if any.
func (s *Service) ReconcilePayment(ctx context.Context, objectType, objectID string) (string, bool, error) {
	token, err := s.token(ctx)
	if err != nil {
		return "", false, err
	}

	resp, err := s.client.CheckPayment(ctx, token, s.creds.PaymentCheckURL, qpay.CheckRequest{
		ObjectType: objectType,
		ObjectID:   objectID,
		Offset:     qpay.CheckOffset{PageNumber: 1, PageLimit: 100},
	})
	if err != nil {
		return "", false, err
	}

	if id, ok := findPaidEntry(resp.Entries()); ok {
		return id, true, nil
	}
	return "", false, nil
}

func findPaidEntry(entries []qpay.PaymentEntry) (string, bool) {
	for _, e := range entries {
		if paidStatuses[strings.ToUpper(e.EffectiveStatus())] && e.PaymentID != "" {
			return e.PaymentID, true
		}
		if id, ok := findPaidEntry(e.Payments); ok {
			return id, true
		}
	}
	return "", false
}

// HandlePaymentConfirmed moves the order to paid and, when enabled, kicks
// off the tax receipt. Re-delivery of the same payment is a no-op.
func (s *Service) HandlePaymentConfirmed(ctx context.Context, order *models.Order, paymentID string) error {
	if order.Status == models.OrderStatusPaid && order.PaymentID == paymentID {
		return nil
	}

	if err := s.db.SetOrderPayment(ctx, order.ID, paymentID); err != nil {
		return err
	}
	if err := s.db.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid); err != nil {
		return err
	}
	if err := s.db.AddOrderNote(ctx, order.ID, fmt.Sprintf("Payment %s confirmed", paymentID)); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("Failed to add order note")
	}

	_ = s.bus.PublishJSON(events.EventPaymentConfirmed, events.PaymentEventPayload{
		OrderID:   order.ID,
		InvoiceID: order.InvoiceID,
		PaymentID: paymentID,
		Amount:    order.Amount,
		Status:    models.OrderStatusPaid,
	})
	s.logger.Info().Int64("order_id", order.ID).Str("payment_id", paymentID).Msg("Payment confirmed")

	if s.cfg.EnableEbarimt {
		if err := s.SubmitEbarimt(ctx, order, paymentID); err != nil {
			if qpay.IsPermanent(err) {
				s.logger.Warn().Err(err).Int64("order_id", order.ID).Msg("Receipt submission failed permanently")
				return nil
			}
			s.logger.Warn().Err(err).Int64("order_id", order.ID).Msg("Receipt submission failed, queued for retry")
			task := models.QueueTask{Type: models.TaskEbarimtRetry, OrderID: &order.ID, PaymentID: &paymentID}
			if dbErr := s.db.EnqueueTask(ctx, &task); dbErr != nil {
				s.logger.Error().Err(dbErr).Int64("order_id", order.ID).Msg("Failed to enqueue receipt retry")
			}
		}
	}

	return nil
}

// SubmitEbarimt creates a tax receipt for a settled payment.
func (s *Service) SubmitEbarimt(ctx context.Context, order *models.Order, paymentID string) error {
	token, err := s.token(ctx)
	if err != nil {
		return err
	}

	payload := qpay.EbarimtRequest{
		PaymentID:          paymentID,
		ReceiverType:       s.cfg.EbarimtReceiverType,
		DistrictCode:       s.cfg.EbarimtDistrictCode,
		ClassificationCode: s.cfg.EbarimtClassificationCode,
	}
	switch s.cfg.EbarimtReceiverType {
	case "COMPANY":
		payload.Receiver = order.BillingCompany
	default:
		payload.Receiver = order.BillingPhone
	}

	resp, err := s.client.CreateEbarimt(ctx, token, s.creds.EbarimtURL, payload)
	if err != nil {
		return err
	}

	if err := s.db.SetOrderEbarimt(ctx, order.ID, resp); err != nil {
		return err
	}
	if err := s.db.AddOrderNote(ctx, order.ID, "Tax receipt issued"); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("Failed to add order note")
	}

	s.logger.Info().Int64("order_id", order.ID).Str("payment_id", paymentID).Msg("Tax receipt issued")
	return nil
}

// RetryEbarimt is the queue handler for failed receipt submissions.
func (s *Service) RetryEbarimt(ctx context.Context, task models.QueueTask) error {
	if task.OrderID == nil {
		return nil
	}
	order, err := s.db.GetOrder(ctx, *task.OrderID)
	if err != nil {
		return err
	}
	if order == nil || order.EbarimtResponse != "" {
		return nil
	}

	paymentID := order.PaymentID
	if task.PaymentID != nil && *task.PaymentID != "" {
		paymentID = *task.PaymentID
	}
	if paymentID == "" {
		s.logger.Warn().Int64("order_id", order.ID).Msg("Receipt retry without payment id, discarding")
		return nil
	}

	return s.SubmitEbarimt(ctx, order, paymentID)
}

// GetPayment fetches one payment's raw details from the processor.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.GetPayment(ctx, token, s.creds.PaymentURL(paymentID))
}

// ListPayments queries the processor's payment list for an object.
func (s *Service) ListPayments(ctx context.Context, objectType, objectID string) (*qpay.CheckResponse, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.ListPayments(ctx, token, s.creds.PaymentListURL(), qpay.ListRequest{
		ObjectType: objectType,
		ObjectID:   objectID,
		Offset:     qpay.CheckOffset{PageNumber: 1, PageLimit: 100},
	})
}
