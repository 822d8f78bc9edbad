package service

import (
	"context"
	"testing"

	"qpaygate/internal/config"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOrderEbarimtUsesStoredReceiptID(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, db.SetOrderEbarimt(ctx, order.ID, `{"id":"EB-1"}`))

	require.NoError(t, svc.CancelOrderEbarimt(ctx, order.ID, ""))
	assert.Equal(t, 1, client.ebarimtCancelCalls)
	assert.Contains(t, client.lastEbarimtCancelURL, "EB-1")

	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.EbarimtResponse)

	notes, err := db.GetOrderNotes(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Note, "EB-1")
}

func TestCancelOrderEbarimtExplicitID(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, db.SetOrderEbarimt(ctx, order.ID, `{"unrelated":"shape"}`))

	require.NoError(t, svc.CancelOrderEbarimt(ctx, order.ID, "EB-9"))
	assert.Contains(t, client.lastEbarimtCancelURL, "EB-9")
}

func TestCancelOrderEbarimtWithoutReceipt(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{})

	order := createTestOrder(t, db, nil)

	err := svc.CancelOrderEbarimt(context.Background(), order.ID, "")
	require.Error(t, err)
	assert.True(t, qpay.IsPermanent(err))
	assert.Equal(t, 0, client.ebarimtCancelCalls)
}

func TestCancelOrderEbarimtUnresolvableID(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, db.SetOrderEbarimt(ctx, order.ID, `{"unrelated":"shape"}`))

	err := svc.CancelOrderEbarimt(ctx, order.ID, "")
	require.Error(t, err)
	assert.True(t, qpay.IsPermanent(err))
	assert.Equal(t, 0, client.ebarimtCancelCalls)
}

func TestCancelInvoiceClearsOrder(t *testing.T) {
	client := &fakeClient{}
	svc, db := newTestService(t, client, config.QPayConfig{})
	ctx := context.Background()

	order := createTestOrder(t, db, nil)
	require.NoError(t, db.SetOrderInvoice(ctx, order.ID, "INV-1", "{}"))

	require.NoError(t, svc.CancelInvoice(ctx, order.ID))

	updated, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.InvoiceID)
	assert.Equal(t, models.OrderStatusPending, updated.Status)
}

func TestCancelInvoiceWithoutInvoice(t *testing.T) {
	svc, db := newTestService(t, &fakeClient{}, config.QPayConfig{})
	order := createTestOrder(t, db, nil)

	err := svc.CancelInvoice(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, qpay.IsPermanent(err))
}
