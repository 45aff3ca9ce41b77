package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyroom-backend/internal/kafka"
	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/models"
	"studyroom-backend/internal/qpay"
	"studyroom-backend/internal/storage"
	"studyroom-backend/internal/utils"
)

var (
	ErrOrderNotPayable = errors.New("order cannot accept a payment")
	ErrInvoiceExists   = errors.New("payment already has a gateway invoice")
)

// PaymentGateway is the slice of the gateway client the payment flow needs.
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, paymentRef string, amount float64, description string) (*qpay.Invoice, error)
	CheckPayment(ctx context.Context, invoiceID string) (*qpay.CheckResult, error)
	CancelInvoice(ctx context.Context, invoiceID string) error
	Refund(ctx context.Context, externalPaymentID, note string) error
}

type PaymentService struct {
	store    storage.Store
	gateway  PaymentGateway
	producer *kafka.Producer
	log      *logger.Logger
	now      func() time.Time
}

func NewPaymentService(store storage.Store, gateway PaymentGateway, producer *kafka.Producer, log *logger.Logger) *PaymentService {
	return &PaymentService{
		store:    store,
		gateway:  gateway,
		producer: producer,
		log:      log,
		now:      time.Now,
	}
}

// CreatePayment opens a pending payment for an order and asks the gateway
// for an invoice. A gateway failure does not fail the call: the payment
// stays pending without an invoice and the invoice can be requested again
// later.
func (s *PaymentService) CreatePayment(ctx context.Context, req *models.CreatePaymentRequest) (*models.Payment, *qpay.Invoice, error) {
	s.log.LogPayment("INIT", "new", fmt.Sprintf("Creating payment for order %s", req.OrderID))

	order, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != models.OrderPendingPayment {
		s.log.LogPayment("REJECTED", "new", fmt.Sprintf("Order %s is %s, not payable", order.ID, order.Status))
		return nil, nil, ErrOrderNotPayable
	}

	if existing, err := s.store.GetPaymentByOrder(ctx, req.OrderID); err == nil {
		s.log.LogPayment("EXISTING", existing.ID, fmt.Sprintf("Order %s already has a payment", req.OrderID))
		return nil, nil, storage.ErrPaymentExists
	}

	now := s.now().UTC()
	payment := &models.Payment{
		ID:              utils.GeneratePaymentID(),
		OrderID:         req.OrderID,
		Amount:          req.Amount,
		Method:          req.Method,
		Status:          models.PaymentPending,
		TransactionTime: now,
		UpdatedAt:       now,
	}
	if err := s.store.SavePayment(ctx, payment); err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("Failed to save payment %s: %v", payment.ID, err))
		return nil, nil, fmt.Errorf("failed to save payment: %w", err)
	}
	s.log.LogDatabase("SAVE", "payments", fmt.Sprintf("Payment %s created for order %s", payment.ID, req.OrderID))

	invoice, err := s.attachInvoice(ctx, payment)
	if err != nil {
		s.log.Warn("PAYMENT", fmt.Sprintf("Invoice creation deferred for payment %s: %v", payment.ID, err))
		return payment, nil, nil
	}
	return payment, invoice, nil
}

// RequestInvoice retries invoice creation for a pending payment that does
// not have one yet.
func (s *PaymentService) RequestInvoice(ctx context.Context, paymentID string) (*models.Payment, *qpay.Invoice, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if payment.Status != models.PaymentPending {
		return nil, nil, storage.ErrInvalidPaymentState
	}
	if payment.ExternalInvoiceID != "" {
		return nil, nil, ErrInvoiceExists
	}

	invoice, err := s.attachInvoice(ctx, payment)
	if err != nil {
		return nil, nil, err
	}
	return payment, invoice, nil
}

func (s *PaymentService) attachInvoice(ctx context.Context, payment *models.Payment) (*qpay.Invoice, error) {
	invoice, err := s.gateway.CreateInvoice(ctx, payment.ID, payment.Amount,
		fmt.Sprintf("Order %s", payment.OrderID))
	if err != nil {
		return nil, err
	}

	payment.ExternalInvoiceID = invoice.InvoiceID
	payment.UpdatedAt = s.now().UTC()
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("Failed to attach invoice %s to payment %s: %v", invoice.InvoiceID, payment.ID, err))
		return nil, fmt.Errorf("failed to attach invoice: %w", err)
	}
	s.log.LogPayment("INVOICE", payment.ID, fmt.Sprintf("Invoice %s attached", invoice.InvoiceID))
	return invoice, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, paymentID)
}

func (s *PaymentService) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	return s.store.GetPaymentByOrder(ctx, orderID)
}

// ApplyGatewayStatus is the single place a gateway verdict becomes local
// state. Both the webhook path and the reconciliation sweep end up here, so
// duplicate and out-of-order verdicts resolve the same way.
func (s *PaymentService) ApplyGatewayStatus(ctx context.Context, payment *models.Payment, result *qpay.CheckResult) (bool, error) {
	switch result.Status {
	case qpay.StatusPaid:
		order, applied, err := s.store.ConfirmPayment(ctx, payment.ID, result.PaymentID, s.now().UTC())
		if err != nil {
			return false, err
		}
		if !applied {
			s.log.LogPayment("DUPLICATE", payment.ID, "Paid verdict already applied")
			return false, nil
		}
		s.log.LogPayment("CONFIRMED", payment.ID, fmt.Sprintf("Order %s moved to %s", payment.OrderID, order.Status))
		payment.Status = models.PaymentPaid
		payment.ExternalPaymentID = result.PaymentID
		s.publishPaymentEvent("payment.success", payment)
		return true, nil

	case qpay.StatusCancelled, qpay.StatusFailed:
		applied, err := s.store.FailPayment(ctx, payment.ID, s.now().UTC())
		if err != nil {
			return false, err
		}
		if !applied {
			return false, nil
		}
		s.log.LogPayment("FAILED", payment.ID, fmt.Sprintf("Gateway reported %s", result.Status))
		payment.Status = models.PaymentFailed
		s.publishPaymentEvent("payment.failed", payment)
		return true, nil

	default:
		// StatusNew and anything unrecognized: the invoice is still open,
		// leave the payment pending for the next sweep.
		return false, nil
	}
}

// HandleCallback processes a gateway webhook. The pushed payload is treated
// as a hint only; the authoritative verdict comes from a direct check
// against the gateway.
func (s *PaymentService) HandleCallback(ctx context.Context, req *models.PaymentCallbackRequest) (*models.Payment, error) {
	payment, err := s.store.GetPaymentByInvoice(ctx, req.InvoiceID)
	if err != nil {
		s.log.LogSecurity("CALLBACK", fmt.Sprintf("Callback for unknown invoice %s", req.InvoiceID))
		return nil, err
	}

	result, err := s.gateway.CheckPayment(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ApplyGatewayStatus(ctx, payment, result); err != nil {
		return nil, err
	}
	return s.store.GetPayment(ctx, payment.ID)
}

// RefundPayment returns a paid payment to the payer through the gateway and
// records the reversal.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID, reason string) (*models.Payment, error) {
	s.log.LogPayment("REFUND_INIT", paymentID, fmt.Sprintf("Initiating refund, reason: %s", reason))

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentPaid {
		s.log.LogPayment("REFUND_REJECTED", paymentID, fmt.Sprintf("Payment is %s, not refundable", payment.Status))
		return nil, storage.ErrInvalidPaymentState
	}

	if err := s.gateway.Refund(ctx, payment.ExternalPaymentID, reason); err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("Gateway refund failed for payment %s: %v", paymentID, err))
		return nil, err
	}

	if err := s.store.RefundPayment(ctx, paymentID, s.now().UTC()); err != nil {
		return nil, err
	}

	s.log.LogPayment("REFUND_SUCCESS", paymentID, "Refund completed")
	payment.Status = models.PaymentRefunded
	s.publishPaymentEvent("payment.refunded", payment)

	return s.store.GetPayment(ctx, paymentID)
}

// ProcessOrderEvent reacts to order events from the bus. New orders that
// carry an amount get a pending payment opened for them.
func (s *PaymentService) ProcessOrderEvent(event *models.OrderEvent) error {
	s.log.LogKafka("EVENT_RECEIVED", "order-events", fmt.Sprintf("Processing %s for order %s", event.Type, event.OrderID))

	if event.Type != "order.created" || event.Amount <= 0 {
		return nil
	}

	ctx := context.Background()
	if _, err := s.store.GetPaymentByOrder(ctx, event.OrderID); err == nil {
		s.log.Warn("KAFKA", fmt.Sprintf("Payment already exists for order %s, skipping", event.OrderID))
		return nil
	}

	_, _, err := s.CreatePayment(ctx, &models.CreatePaymentRequest{
		OrderID: event.OrderID,
		Amount:  event.Amount,
		Method:  "qpay",
	})
	if err != nil && !errors.Is(err, storage.ErrPaymentExists) {
		return err
	}
	return nil
}

func (s *PaymentService) publishPaymentEvent(eventType string, payment *models.Payment) {
	event := &models.PaymentEvent{
		Type:      eventType,
		PaymentID: payment.ID,
		Payment:   payment,
		Timestamp: s.now().UTC(),
	}

	if err := s.producer.PublishPaymentEvent(event); err != nil {
		s.log.Error("KAFKA", fmt.Sprintf("Failed to publish %s for payment %s: %v", eventType, payment.ID, err))
		s.log.LogProcess("FALLBACK", fmt.Sprintf("Payment %s state committed despite publish failure", payment.ID))
	}
}
