package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"qpaygate/internal/metrics"
	"qpaygate/internal/models"
)

// callbackPayload is the processor's callback body. Different processor
// versions name the invoice field differently.
type callbackPayload struct {
	InvoiceID string `json:"invoice_id"`
	ObjectID  string `json:"object_id"`
	PaymentID string `json:"payment_id"`
}

func (p callbackPayload) invoiceID() string {
	if p.InvoiceID != "" {
		return p.InvoiceID
	}
	return p.ObjectID
}

// handleCallback processes payment notifications from the processor. The
// notification is only a hint: the actual payment state is re-verified
// upstream before the order is touched.
func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if s.webhookCfg.Secret != "" {
		header := r.Header.Get(s.webhookCfg.SignatureHeader)
		if err := VerifySignature(s.webhookCfg.Secret, s.webhookCfg.SignatureAlg, header, body); err != nil {
			if err == errMissingSignature {
				metrics.WebhookEvents.WithLabelValues("missing_signature").Inc()
				writeError(w, http.StatusBadRequest, "missing signature")
				return
			}
			metrics.WebhookEvents.WithLabelValues("bad_signature").Inc()
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Callback signature mismatch")
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	var payload callbackPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			metrics.WebhookEvents.WithLabelValues("error").Inc()
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	// Some processor configurations deliver identifiers as query params.
	if payload.InvoiceID == "" && payload.ObjectID == "" && payload.PaymentID == "" {
		payload.InvoiceID = r.URL.Query().Get("invoice_id")
		payload.PaymentID = r.URL.Query().Get("payment_id")
	}

	invoiceID := payload.invoiceID()
	if invoiceID == "" && payload.PaymentID == "" {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, "callback carried no identifiers")
		return
	}

	order, err := s.findOrder(r, invoiceID, payload.PaymentID)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if order == nil {
		metrics.WebhookEvents.WithLabelValues("unknown_order").Inc()
		writeError(w, http.StatusNotFound, "unknown order")
		return
	}

	objectType, objectID := "INVOICE", invoiceID
	if objectID == "" {
		objectType, objectID = "PAYMENT", payload.PaymentID
	}

	paymentID, paid, err := s.svc.ReconcilePayment(r.Context(), objectType, objectID)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("Callback reconciliation failed")
		writeError(w, http.StatusBadGateway, "reconciliation failed")
		return
	}

	if paid {
		if err := s.svc.HandlePaymentConfirmed(r.Context(), order, paymentID); err != nil {
			metrics.WebhookEvents.WithLabelValues("error").Inc()
			s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("Failed to apply confirmed payment")
			writeError(w, http.StatusInternalServerError, "confirmation failed")
			return
		}
	} else {
		s.logger.Info().Int64("order_id", order.ID).Str("object_id", objectID).
			Msg("Callback received but no settled payment found")
	}

	metrics.WebhookEvents.WithLabelValues("accepted").Inc()

	// The processor keeps redelivering until it sees this exact body.
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("SUCCESS"))
}

func (s *HTTPServer) findOrder(r *http.Request, invoiceID, paymentID string) (*models.Order, error) {
	if invoiceID != "" {
		if order, err := s.db.FindOrderByInvoiceID(r.Context(), invoiceID); err != nil || order != nil {
			return order, err
		}
	}
	if paymentID != "" {
		if order, err := s.db.FindOrderByPaymentID(r.Context(), paymentID); err != nil || order != nil {
			return order, err
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("order_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, nil
		}
		return s.db.GetOrder(r.Context(), id)
	}
	return nil, nil
}
