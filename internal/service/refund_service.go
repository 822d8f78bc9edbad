package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"qpaygate/internal/events"
	"qpaygate/internal/metrics"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"
)

var idempotencyKeyStrip = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// IdempotencyKey derives the stable refund key for an (order, payment)
// pair. Retries of the same refund always carry the same key, so the
// processor deduplicates them.
func IdempotencyKey(orderID int64, paymentID string) string {
	return fmt.Sprintf("refund_%d_%s", orderID, idempotencyKeyStrip.ReplaceAllString(paymentID, ""))
}

// refundTaskPayload is persisted in QueueTask.Payload as JSON.
type refundTaskPayload struct {
	RefundID int64 `json:"refund_id"`
}

// Refund requests a refund for the order's payment. The call is
// idempotent: an already succeeded refund returns its record unchanged,
// and a transient processor failure leaves the record pending with a
// retry task queued.
func (s *Service) Refund(ctx context.Context, orderID int64, paymentID string) (*models.RefundRecord, error) {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, qpay.ErrNotFound
	}

	if paymentID == "" {
		paymentID = order.PaymentID
	}
	if paymentID == "" {
		return nil, &qpay.ValidationError{Problems: []string{"order has no payment to refund"}}
	}

	key := IdempotencyKey(orderID, paymentID)
	record, err := s.db.GetRefundByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil {
		switch record.Status {
		case models.RefundStatusSucceeded, models.RefundStatusManual:
			return record, nil
		}
	} else {
		record = &models.RefundRecord{
			OrderID:        orderID,
			PaymentID:      paymentID,
			IdempotencyKey: key,
			Status:         models.RefundStatusPending,
		}
		if err := s.db.InsertRefund(ctx, record); err != nil {
			// A concurrent request may have inserted the row first.
			existing, getErr := s.db.GetRefundByKey(ctx, key)
			if getErr != nil || existing == nil {
				return nil, err
			}
			record = existing
		}
	}

	attemptErr := s.attemptRefund(ctx, record)
	if attemptErr == nil {
		return s.db.GetRefundByID(ctx, record.ID)
	}
	if qpay.IsPermanent(attemptErr) {
		if dbErr := s.db.SetRefundStatus(ctx, record.ID, models.RefundStatusFailed, attemptErr.Error()); dbErr != nil {
			s.logger.Error().Err(dbErr).Int64("refund_id", record.ID).Msg("Failed to mark refund failed")
		}
		return s.db.GetRefundByID(ctx, record.ID)
	}

	// Transient failure: the record stays pending and the queue keeps
	// trying with the same idempotency key.
	payload, _ := json.Marshal(refundTaskPayload{RefundID: record.ID})
	task := models.QueueTask{
		Type:      models.TaskRefundRetry,
		OrderID:   &orderID,
		PaymentID: &paymentID,
		Payload:   string(payload),
	}
	if dbErr := s.db.EnqueueTask(ctx, &task); dbErr != nil {
		s.logger.Error().Err(dbErr).Int64("refund_id", record.ID).Msg("Failed to enqueue refund retry")
	}

	refreshed, err := s.db.GetRefundByID(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	return refreshed, qpay.ErrRefundPending
}

// attemptRefund performs one upstream refund call and records the outcome.
func (s *Service) attemptRefund(ctx context.Context, record *models.RefundRecord) error {
	token, err := s.token(ctx)
	if err != nil {
		s.recordFailure(ctx, record.ID, err, "")
		return err
	}

	body, err := s.client.RefundPayment(ctx, token, s.creds.RefundURL(), record.PaymentID, record.IdempotencyKey)
	if err != nil {
		response := ""
		var apiErr *qpay.APIError
		if errors.As(err, &apiErr) {
			response = apiErr.Body
		}
		s.recordFailure(ctx, record.ID, err, response)
		return err
	}

	refundID := extractRefundID(body)
	if err := s.db.MarkRefundSucceeded(ctx, record.ID, refundID, body); err != nil {
		return err
	}
	if err := s.db.UpdateOrderStatus(ctx, record.OrderID, models.OrderStatusRefunded); err != nil {
		s.logger.Error().Err(err).Int64("order_id", record.OrderID).Msg("Failed to mark order refunded")
	}
	if err := s.db.AddOrderNote(ctx, record.OrderID, fmt.Sprintf("Payment %s refunded", record.PaymentID)); err != nil {
		s.logger.Error().Err(err).Int64("order_id", record.OrderID).Msg("Failed to add order note")
	}

	metrics.RefundAttempts.WithLabelValues("succeeded").Inc()
	_ = s.bus.PublishJSON(events.EventRefundSucceeded, events.PaymentEventPayload{
		OrderID:   record.OrderID,
		PaymentID: record.PaymentID,
		RefundID:  refundID,
	})
	s.logger.Info().Int64("order_id", record.OrderID).Str("payment_id", record.PaymentID).Msg("Refund succeeded")
	return nil
}

func (s *Service) recordFailure(ctx context.Context, recordID int64, cause error, response string) {
	metrics.RefundAttempts.WithLabelValues("pending").Inc()
	if err := s.db.RecordRefundFailure(ctx, recordID, cause.Error(), response); err != nil {
		s.logger.Error().Err(err).Int64("refund_id", recordID).Msg("Failed to record refund failure")
	}
}

// RetryRefund is the queue handler for pending refunds. Rows that
// succeeded in the meantime, or that an operator took over, drain the
// task quietly.
func (s *Service) RetryRefund(ctx context.Context, task models.QueueTask) error {
	var payload refundTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return &qpay.ValidationError{Problems: []string{fmt.Sprintf("malformed refund task payload: %v", err)}}
	}

	record, err := s.db.GetRefundByID(ctx, payload.RefundID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	switch record.Status {
	case models.RefundStatusSucceeded, models.RefundStatusManual:
		return nil
	}

	return s.attemptRefund(ctx, record)
}

// RetryRefundNow re-runs a refund immediately on operator request.
func (s *Service) RetryRefundNow(ctx context.Context, refundID int64) (*models.RefundRecord, error) {
	record, err := s.db.GetRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, qpay.ErrNotFound
	}
	if record.Status == models.RefundStatusSucceeded {
		return record, nil
	}

	if err := s.attemptRefund(ctx, record); err != nil {
		refreshed, getErr := s.db.GetRefundByID(ctx, record.ID)
		if getErr != nil {
			return nil, getErr
		}
		return refreshed, qpay.ErrRefundPending
	}
	return s.db.GetRefundByID(ctx, record.ID)
}

// ListRefunds exposes the ledger, optionally filtered by status.
func (s *Service) ListRefunds(ctx context.Context, status models.RefundStatus) ([]models.RefundRecord, error) {
	return s.db.ListRefunds(ctx, status)
}

// extractRefundID pulls the processor's refund identifier out of the raw
// response when one is present.
func extractRefundID(body string) string {
	var parsed struct {
		RefundID string `json:"refund_id"`
		ID       string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return ""
	}
	if parsed.RefundID != "" {
		return parsed.RefundID
	}
	return parsed.ID
}
