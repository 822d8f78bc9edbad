package service

import (
	"context"
	"errors"
	"testing"

	"qpaygate/internal/config"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoiceSuccess(t *testing.T) {
	client := &fakeClient{invoiceResp: &qpay.InvoiceResponse{
		InvoiceID: "INV-1",
		ShortURL:  "https://s.qpay.mn/x",
		Raw:       `{"invoice_id":"INV-1"}`,
	}}
	svc, db := newTestService(t, client, config.QPayConfig{
		CallbackBaseURL: "https://shop.example.mn",
		BranchCode:      "SALBAR1",
	})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)

	inv, err := svc.CreateInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", inv.InvoiceID)

	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAwaitingPay, updated.Status)
	assert.Equal(t, "INV-1", updated.InvoiceID)
	assert.Equal(t, `{"invoice_id":"INV-1"}`, updated.InvoiceResponse)

	req := client.lastInvoiceReq
	assert.Equal(t, "TEST_INVOICE", req.InvoiceCode)
	assert.Equal(t, "SALBAR1", req.SenderBranchCode)
	assert.Contains(t, req.CallbackURL, "https://shop.example.mn/qpay/v1/callback?order_id=")
	assert.Equal(t, "false", req.EnableExpiry)
	require.NotNil(t, req.InvoiceReceiverData)
	assert.Equal(t, "B. Bold", req.InvoiceReceiverData.Name)
}

func TestCreateInvoiceRejectsForeignCurrency(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, func(o *models.Order) { o.Currency = "USD" })

	_, err := svc.CreateInvoice(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, qpay.IsPermanent(err))
	assert.Equal(t, 0, client.invoiceCalls)

	// Permanent failures never queue a retry.
	count, err := db.CountQueueTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateInvoiceTransientFailureQueuesRetry(t *testing.T) {
	client := &fakeClient{invoiceErr: &qpay.TransportError{Op: "invoice create", Err: errors.New("timeout")}}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)

	_, err := svc.CreateInvoice(ctx, order.ID)
	require.Error(t, err)
	assert.False(t, qpay.IsPermanent(err))

	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingInvoice, updated.Status)

	tasks, err := db.ListQueueTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskInvoiceCreateRetry, tasks[0].Type)
	require.NotNil(t, tasks[0].OrderID)
	assert.Equal(t, order.ID, *tasks[0].OrderID)
}

func TestCreateInvoiceMissingOrder(t *testing.T) {
	svc, _ := newTestService(t, &fakeClient{}, config.QPayConfig{})

	_, err := svc.CreateInvoice(context.Background(), 9999)
	assert.ErrorIs(t, err, qpay.ErrNotFound)
}

func TestRetryInvoiceCreateDrainsStaleTasks(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	// No order id on the task.
	require.NoError(t, svc.RetryInvoiceCreate(ctx, models.QueueTask{Type: models.TaskInvoiceCreateRetry}))

	// Order already holds an invoice.
	order := createTestOrder(t, db, nil)
	require.NoError(t, db.SetOrderInvoice(ctx, order.ID, "INV-1", "{}"))
	require.NoError(t, svc.RetryInvoiceCreate(ctx, models.QueueTask{Type: models.TaskInvoiceCreateRetry, OrderID: &order.ID}))

	// Order vanished.
	missing := int64(9999)
	require.NoError(t, svc.RetryInvoiceCreate(ctx, models.QueueTask{Type: models.TaskInvoiceCreateRetry, OrderID: &missing}))

	assert.Equal(t, 0, client.invoiceCalls)
}

func TestRetryInvoiceCreateCompletesOrder(t *testing.T) {
	client := &fakeClient{invoiceResp: &qpay.InvoiceResponse{InvoiceID: "INV-2", Raw: "{}"}}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, db.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPendingInvoice))

	require.NoError(t, svc.RetryInvoiceCreate(ctx, models.QueueTask{Type: models.TaskInvoiceCreateRetry, OrderID: &order.ID}))

	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAwaitingPay, updated.Status)
	assert.Equal(t, "INV-2", updated.InvoiceID)
}

func TestReconcilePaymentFindsNestedPayment(t *testing.T) {
	client := &fakeClient{checkResp: &qpay.CheckResponse{
		Rows: []qpay.PaymentEntry{
			{
				PaymentID: "P-INVOICE",
				StatusAlt: "NEW",
				Payments: []qpay.PaymentEntry{
					{PaymentID: "P-1", StatusAlt: "success"},
				},
			},
		},
	}}
	svc, _ := newTestService(t, client, config.QPayConfig{})

	paymentID, paid, err := svc.ReconcilePayment(context.Background(), "INVOICE", "INV-1")
	require.NoError(t, err)
	assert.True(t, paid)
	assert.Equal(t, "P-1", paymentID)
}

func TestReconcilePaymentNoSettledEntry(t *testing.T) {
	client := &fakeClient{checkResp: &qpay.CheckResponse{
		Data: []qpay.PaymentEntry{{PaymentID: "P-1", Status: "FAILED"}},
	}}
	svc, _ := newTestService(t, client, config.QPayConfig{})

	_, paid, err := svc.ReconcilePayment(context.Background(), "INVOICE", "INV-1")
	require.NoError(t, err)
	assert.False(t, paid)
}

func TestHandlePaymentConfirmedIsIdempotent(t *testing.T) {
	svc, db := newTestService(t, &fakeClient{}, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, svc.HandlePaymentConfirmed(ctx, order, "PAY-1"))

	notes, err := db.GetOrderNotes(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	// Redelivery of the same payment does nothing.
	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NoError(t, svc.HandlePaymentConfirmed(ctx, updated, "PAY-1"))

	notes, err = db.GetOrderNotes(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestHandlePaymentConfirmedQueuesReceiptRetry(t *testing.T) {
	client := &fakeClient{ebarimtErr: &qpay.TransportError{Op: "ebarimt create", Err: errors.New("timeout")}}
	svc, db := newTestService(t, client, config.QPayConfig{
		EnableEbarimt:       true,
		EbarimtReceiverType: "CITIZEN",
	})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, svc.HandlePaymentConfirmed(ctx, order, "PAY-1"))

	tasks, err := db.ListQueueTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskEbarimtRetry, tasks[0].Type)
	require.NotNil(t, tasks[0].PaymentID)
	assert.Equal(t, "PAY-1", *tasks[0].PaymentID)

	// The payment itself still went through.
	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, updated.Status)
}

func TestHandlePaymentConfirmedPermanentReceiptFailureNotQueued(t *testing.T) {
	client := &fakeClient{ebarimtErr: &qpay.ValidationError{Problems: []string{"bad receiver"}}}
	svc, db := newTestService(t, client, config.QPayConfig{
		EnableEbarimt:       true,
		EbarimtReceiverType: "CITIZEN",
	})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, svc.HandlePaymentConfirmed(ctx, order, "PAY-1"))

	count, err := db.CountQueueTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmitEbarimtReceiverSelection(t *testing.T) {
	client := &fakeClient{ebarimtBody: `{"id":"EB-1"}`}
	svc, db := newTestService(t, client, config.QPayConfig{
		EbarimtReceiverType:       "COMPANY",
		EbarimtDistrictCode:       "34",
		EbarimtClassificationCode: "8471",
	})
	ctx := context.Background()

	order := createTestOrder(t, db, func(o *models.Order) { o.BillingCompany = "1234567" })

	require.NoError(t, svc.SubmitEbarimt(ctx, order, "PAY-1"))
	assert.Equal(t, "COMPANY", client.lastEbarimtReq.ReceiverType)
	assert.Equal(t, "1234567", client.lastEbarimtReq.Receiver)
	assert.Equal(t, "34", client.lastEbarimtReq.DistrictCode)
	assert.Equal(t, "8471", client.lastEbarimtReq.ClassificationCode)

	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"EB-1"}`, updated.EbarimtResponse)
}

func TestSubmitEbarimtCitizenDefaultsToPhone(t *testing.T) {
	client := &fakeClient{ebarimtBody: `{}`}
	svc, db := newTestService(t, client, config.QPayConfig{EbarimtReceiverType: "CITIZEN"})

	order := createTestOrder(t, db, nil)
	require.NoError(t, svc.SubmitEbarimt(context.Background(), order, "PAY-1"))
	assert.Equal(t, "99112233", client.lastEbarimtReq.Receiver)
}

func TestRetryEbarimtDrainsStaleTasks(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{EbarimtReceiverType: "CITIZEN"})
	ctx := context.Background()

	// Receipt already issued.
	issued := createTestOrder(t, db, nil)
	require.NoError(t, db.SetOrderEbarimt(ctx, issued.ID, "{}"))
	require.NoError(t, svc.RetryEbarimt(ctx, models.QueueTask{Type: models.TaskEbarimtRetry, OrderID: &issued.ID}))

	// No payment id anywhere.
	unpaid := createTestOrder(t, db, nil)
	require.NoError(t, svc.RetryEbarimt(ctx, models.QueueTask{Type: models.TaskEbarimtRetry, OrderID: &unpaid.ID}))

	assert.Equal(t, 0, client.ebarimtCalls)
}

func TestRetryEbarimtPrefersTaskPaymentID(t *testing.T) {
	client := &fakeClient{ebarimtBody: `{}`}
	svc, db := newTestService(t, client, config.QPayConfig{EbarimtReceiverType: "CITIZEN"})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, db.SetOrderPayment(ctx, order.ID, "PAY-OLD"))

	taskPayment := "PAY-NEW"
	task := models.QueueTask{Type: models.TaskEbarimtRetry, OrderID: &order.ID, PaymentID: &taskPayment}
	require.NoError(t, svc.RetryEbarimt(ctx, task))
	assert.Equal(t, "PAY-NEW", client.lastEbarimtReq.PaymentID)
}
