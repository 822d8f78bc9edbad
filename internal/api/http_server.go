package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qpaygate/internal/config"
	"qpaygate/internal/database"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"
	"qpaygate/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessFunc runs one queue drain on operator request.
type ProcessFunc func(ctx context.Context, limit int) (int, error)

// HTTPServer hosts the processor callback endpoint and the authenticated
// admin API. The callback path skips API-key auth: the processor signs
// its requests instead.
type HTTPServer struct {
	cfg        config.APIConfig
	webhookCfg config.WebhookConfig
	db         *database.DB
	svc        *service.Service
	process    ProcessFunc
	batchSize  int
	server     *http.Server
	auth       *HTTPAuth
	logger     *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, webhookCfg config.WebhookConfig, db *database.DB, svc *service.Service, process ProcessFunc, batchSize int, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:        cfg,
		webhookCfg: webhookCfg,
		db:         db,
		svc:        svc,
		process:    process,
		batchSize:  batchSize,
		logger:     logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	admin := http.NewServeMux()
	admin.HandleFunc("/api/v1/queue", srv.handleQueue)
	admin.HandleFunc("/api/v1/refunds", srv.handleRefunds)
	admin.HandleFunc("/api/v1/refunds/retry", srv.handleRefundRetry)
	admin.HandleFunc("/api/v1/refunds/export", srv.handleRefundExport)
	admin.HandleFunc("/api/v1/payments/", srv.handlePayment)
	admin.HandleFunc("/api/v1/orders", srv.handleOrders)
	admin.HandleFunc("/api/v1/orders/", srv.handleOrderActions)
	admin.HandleFunc("/api/v1/process", srv.handleProcess)

	mux := http.NewServeMux()
	mux.HandleFunc("/qpay/v1/callback", srv.handleCallback)
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/api/v1/", srv.auth.Wrap(admin))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tasks, err := s.db.ListQueueTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *HTTPServer) handleRefunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := models.RefundStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", models.RefundStatusPending, models.RefundStatusSucceeded, models.RefundStatusFailed, models.RefundStatusManual:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	refunds, err := s.svc.ListRefunds(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list refunds")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": refunds, "count": len(refunds)})
}

func (s *HTTPServer) handleRefundRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	results := make([]map[string]any, 0, len(body.IDs))
	for _, id := range body.IDs {
		record, err := s.svc.RetryRefundNow(r.Context(), id)
		entry := map[string]any{"id": id}
		switch {
		case err == qpay.ErrNotFound:
			entry["error"] = "not found"
		case err == qpay.ErrRefundPending:
			entry["status"] = string(record.Status)
			entry["pending"] = true
		case err != nil:
			entry["error"] = err.Error()
		default:
			entry["status"] = string(record.Status)
		}
		results = append(results, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) handleRefundExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path, err := s.svc.ExportRefundLedger(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *HTTPServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/payments/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "payment id is required")
		return
	}

	if paymentID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var body struct {
			Note string `json:"note"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		resp, err := s.svc.CancelPayment(r.Context(), paymentID, body.Note)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": resp})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	payment, err := s.svc.GetPayment(r.Context(), rest)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

func (s *HTTPServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Currency       string  `json:"currency"`
		Amount         float64 `json:"amount"`
		BillingName    string  `json:"billing_name"`
		BillingEmail   string  `json:"billing_email"`
		BillingPhone   string  `json:"billing_phone"`
		BillingCompany string  `json:"billing_company"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	order := models.Order{
		Currency:       body.Currency,
		Amount:         body.Amount,
		BillingName:    body.BillingName,
		BillingEmail:   body.BillingEmail,
		BillingPhone:   body.BillingPhone,
		BillingCompany: body.BillingCompany,
	}
	if err := s.db.CreateOrder(r.Context(), &order); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (s *HTTPServer) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
	idStr, action, _ := strings.Cut(rest, "/")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	switch action {
	case "":
		s.handleOrderGet(w, r, orderID)
	case "invoice":
		s.handleOrderInvoice(w, r, orderID)
	case "invoice/cancel":
		s.handleOrderInvoiceCancel(w, r, orderID)
	case "ebarimt/cancel":
		s.handleOrderEbarimtCancel(w, r, orderID)
	case "refund":
		s.handleOrderRefund(w, r, orderID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleOrderGet(w http.ResponseWriter, r *http.Request, orderID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	order, err := s.db.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	notes, err := s.db.GetOrderNotes(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order, "notes": notes})
}

func (s *HTTPServer) handleOrderInvoice(w http.ResponseWriter, r *http.Request, orderID int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	inv, err := s.svc.CreateInvoice(r.Context(), orderID)
	if err != nil {
		if qpay.IsPermanent(err) || err == qpay.ErrNotFound {
			s.writeServiceError(w, err)
			return
		}
		// Queued for retry; checkout continues.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invoice": inv})
}

func (s *HTTPServer) handleOrderInvoiceCancel(w http.ResponseWriter, r *http.Request, orderID int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.svc.CancelInvoice(r.Context(), orderID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *HTTPServer) handleOrderEbarimtCancel(w http.ResponseWriter, r *http.Request, orderID int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		EbarimtID string `json:"ebarimt_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := s.svc.CancelOrderEbarimt(r.Context(), orderID, body.EbarimtID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *HTTPServer) handleOrderRefund(w http.ResponseWriter, r *http.Request, orderID int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		PaymentID string `json:"payment_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	record, err := s.svc.Refund(r.Context(), orderID, body.PaymentID)
	switch {
	case err == qpay.ErrRefundPending:
		writeJSON(w, http.StatusAccepted, map[string]any{"refund": record})
	case err != nil:
		s.writeServiceError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"refund": record})
	}
}

func (s *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	processed, err := s.process(r.Context(), s.batchSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case err == qpay.ErrNotFound:
		writeError(w, http.StatusNotFound, "not found")
	case qpay.IsPermanent(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("x-request-id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("x-request-id", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
