package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/models"
	"studyroom-backend/internal/qpay"
)

type fakeSweepLock struct {
	held     bool
	acquires int
	releases int
}

func (l *fakeSweepLock) AcquireSweepLock(ctx context.Context, owner string) (bool, error) {
	l.acquires++
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeSweepLock) ReleaseSweepLock(ctx context.Context, owner string) error {
	l.releases++
	l.held = false
	return nil
}

func newReconcilerFixture(t *testing.T, lock SweepLock) (*fixture, *Reconciler) {
	t.Helper()
	f := newFixture(t)
	r := NewReconciler(f.store, f.payments, lock, logger.NewLogger(), 5*time.Minute, 24*time.Hour)
	return f, r
}

func TestReconcilerResolvesPendingPayment(t *testing.T) {
	f, r := newReconcilerFixture(t, nil)
	ctx := context.Background()
	order := f.createOrder(t)

	payment, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	// The webhook never arrived; the gateway knows the invoice was paid.
	f.gateway.checkResult = &qpay.CheckResult{Status: qpay.StatusPaid, PaymentID: "qp_sweep"}
	r.RunOnce(ctx)

	got, err := f.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.Status)
	assert.Equal(t, "qp_sweep", got.ExternalPaymentID)

	gotOrder, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAwaitingUse, gotOrder.Status)

	// The next sweep finds nothing to do.
	r.RunOnce(ctx)
	gotOrder, err = f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAwaitingUse, gotOrder.Status)
}

func TestReconcilerSkipsPaymentsWithoutInvoice(t *testing.T) {
	f, r := newReconcilerFixture(t, nil)
	ctx := context.Background()
	order := f.createOrder(t)

	f.gateway.createErr = qpay.ErrGatewayUnavailable
	payment, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	f.gateway.createErr = nil
	f.gateway.checkResult = &qpay.CheckResult{Status: qpay.StatusPaid, PaymentID: "qp_x"}
	r.RunOnce(ctx)

	// No invoice means nothing to check against.
	got, err := f.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)
}

func TestReconcilerToleratesGatewayErrors(t *testing.T) {
	f, r := newReconcilerFixture(t, nil)
	ctx := context.Background()
	order := f.createOrder(t)

	payment, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	f.gateway.checkErr = qpay.ErrGatewayUnavailable
	r.RunOnce(ctx)

	got, err := f.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)

	// The payment stays eligible and resolves on a later sweep.
	f.gateway.checkErr = nil
	f.gateway.checkResult = &qpay.CheckResult{Status: qpay.StatusCancelled}
	r.RunOnce(ctx)

	got, err = f.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, got.Status)
}

func TestReconcilerRespectsSweepLock(t *testing.T) {
	lock := &fakeSweepLock{held: true}
	f, r := newReconcilerFixture(t, lock)
	ctx := context.Background()
	order := f.createOrder(t)

	_, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	f.gateway.checkResult = &qpay.CheckResult{Status: qpay.StatusPaid, PaymentID: "qp_y"}
	r.RunOnce(ctx)

	// Another instance holds the lock, so nothing was applied here.
	payment, err := f.payments.GetPaymentByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, 1, lock.acquires)
	assert.Equal(t, 0, lock.releases)

	lock.held = false
	r.RunOnce(ctx)
	payment, err = f.payments.GetPaymentByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, payment.Status)
	assert.Equal(t, 1, lock.releases)
}

func TestReconcilerStartStop(t *testing.T) {
	_, r := newReconcilerFixture(t, nil)
	r.Start()
	r.Stop()
}
