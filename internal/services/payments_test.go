package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom-backend/internal/kafka"
	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/models"
	"studyroom-backend/internal/qpay"
	"studyroom-backend/internal/storage"
)

// fakeGateway scripts gateway verdicts for the service tests.
type fakeGateway struct {
	createCalls int
	createErr   error
	checkResult *qpay.CheckResult
	checkErr    error
	refundErr   error
	cancelled   []string
	refunded    []string
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, paymentRef string, amount float64, description string) (*qpay.Invoice, error) {
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &qpay.Invoice{InvoiceID: "inv_" + paymentRef, QRText: "qr"}, nil
}

func (g *fakeGateway) CheckPayment(ctx context.Context, invoiceID string) (*qpay.CheckResult, error) {
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	if g.checkResult != nil {
		return g.checkResult, nil
	}
	return &qpay.CheckResult{Status: qpay.StatusNew}, nil
}

func (g *fakeGateway) CancelInvoice(ctx context.Context, invoiceID string) error {
	g.cancelled = append(g.cancelled, invoiceID)
	return nil
}

func (g *fakeGateway) Refund(ctx context.Context, externalPaymentID, note string) error {
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunded = append(g.refunded, externalPaymentID)
	return nil
}

type fixture struct {
	store    *storage.InMemoryStore
	gateway  *fakeGateway
	payments *PaymentService
	orders   *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewLogger()
	producer, err := kafka.NewProducer(nil, true, log)
	require.NoError(t, err)

	store := storage.NewInMemoryStore()
	gateway := &fakeGateway{}
	payments := NewPaymentService(store, gateway, producer, log)
	orders := NewOrderService(store, payments, producer, log)
	return &fixture{store: store, gateway: gateway, payments: payments, orders: orders}
}

func (f *fixture) createOrder(t *testing.T) *models.Order {
	t.Helper()
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	order, err := f.orders.CreateOrder(context.Background(), &models.CreateOrderRequest{
		UserID:    1,
		StoreID:   1,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	})
	require.NoError(t, err)
	return order
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payment, invoice, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, invoice.InvoiceID, payment.ExternalInvoiceID)

	// One payment per order.
	_, _, err = f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	assert.ErrorIs(t, err, storage.ErrPaymentExists)
}

func TestCreatePaymentOrderChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: "ord_missing", Amount: 10, Method: "qpay",
	})
	assert.ErrorIs(t, err, storage.ErrOrderNotFound)

	order := f.createOrder(t)
	_, err = f.orders.Cancel(ctx, order.ID)
	require.NoError(t, err)

	_, _, err = f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 10, Method: "qpay",
	})
	assert.ErrorIs(t, err, ErrOrderNotPayable)
}

func TestCreatePaymentSurvivesGatewayOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	f.gateway.createErr = qpay.ErrGatewayUnavailable
	payment, invoice, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)
	assert.Nil(t, invoice)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Empty(t, payment.ExternalInvoiceID)

	// Retry once the gateway is back.
	f.gateway.createErr = nil
	retried, invoice, err := f.payments.RequestInvoice(ctx, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, invoice.InvoiceID, retried.ExternalInvoiceID)

	// A payment with an invoice cannot request another.
	_, _, err = f.payments.RequestInvoice(ctx, payment.ID)
	assert.ErrorIs(t, err, ErrInvoiceExists)
}

func TestApplyGatewayStatusPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payment, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	applied, err := f.payments.ApplyGatewayStatus(ctx, payment, &qpay.CheckResult{Status: qpay.StatusPaid, PaymentID: "qp_1"})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAwaitingUse, got.Status)

	// Replaying the verdict changes nothing.
	applied, err = f.payments.ApplyGatewayStatus(ctx, payment, &qpay.CheckResult{Status: qpay.StatusPaid, PaymentID: "qp_1"})
	require.NoError(t, err)
	assert.False(t, applied)

	records, err := f.store.ListRevenue(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestApplyGatewayStatusOpenInvoiceIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payment, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	for _, status := range []string{qpay.StatusNew, "SOMETHING_ELSE"} {
		applied, err := f.payments.ApplyGatewayStatus(ctx, payment, &qpay.CheckResult{Status: status})
		require.NoError(t, err)
		assert.False(t, applied)
	}

	got, err := f.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)
}

func TestHandleCallbackVerifiesWithGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	_, invoice, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	// A forged callback claiming PAID is ignored when the gateway says the
	// invoice is still open.
	f.gateway.checkResult = &qpay.CheckResult{Status: qpay.StatusNew}
	got, err := f.payments.HandleCallback(ctx, &models.PaymentCallbackRequest{
		InvoiceID: invoice.InvoiceID, Status: "PAID",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)

	// The real verdict lands on the next callback.
	f.gateway.checkResult = &qpay.CheckResult{Status: qpay.StatusPaid, PaymentID: "qp_9"}
	got, err = f.payments.HandleCallback(ctx, &models.PaymentCallbackRequest{
		InvoiceID: invoice.InvoiceID, Status: "PAID",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.Status)
	assert.Equal(t, "qp_9", got.ExternalPaymentID)

	_, err = f.payments.HandleCallback(ctx, &models.PaymentCallbackRequest{InvoiceID: "inv_unknown", Status: "PAID"})
	assert.ErrorIs(t, err, storage.ErrPaymentNotFound)
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payment, _, err := f.payments.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: order.ID, Amount: 30, Method: "qpay",
	})
	require.NoError(t, err)

	// Not refundable before it is paid.
	_, err = f.payments.RefundPayment(ctx, payment.ID, "test")
	assert.ErrorIs(t, err, storage.ErrInvalidPaymentState)

	_, err = f.payments.ApplyGatewayStatus(ctx, payment, &qpay.CheckResult{Status: qpay.StatusPaid, PaymentID: "qp_1"})
	require.NoError(t, err)

	// A gateway failure leaves the local state untouched.
	f.gateway.refundErr = qpay.ErrGatewayUnavailable
	_, err = f.payments.RefundPayment(ctx, payment.ID, "test")
	assert.ErrorIs(t, err, qpay.ErrGatewayUnavailable)
	got, err := f.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.Status)

	f.gateway.refundErr = nil
	refunded, err := f.payments.RefundPayment(ctx, payment.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	assert.Equal(t, []string{"qp_1"}, f.gateway.refunded)
}

func TestProcessOrderEventCreatesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	err := f.payments.ProcessOrderEvent(&models.OrderEvent{
		Type: "order.created", OrderID: order.ID, Order: order, Amount: 45,
	})
	require.NoError(t, err)

	payment, err := f.payments.GetPaymentByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, payment.Amount)

	// Redelivery does not open a second payment.
	err = f.payments.ProcessOrderEvent(&models.OrderEvent{
		Type: "order.created", OrderID: order.ID, Order: order, Amount: 45,
	})
	require.NoError(t, err)

	// Events without an amount are ignored.
	err = f.payments.ProcessOrderEvent(&models.OrderEvent{Type: "order.created", OrderID: "ord_other"})
	require.NoError(t, err)
	_, err = f.payments.GetPaymentByOrder(ctx, "ord_other")
	assert.ErrorIs(t, err, storage.ErrPaymentNotFound)
}
