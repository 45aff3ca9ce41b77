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
	ErrInvalidTimeRange  = errors.New("start time must be before end time")
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

// validTransitions holds the forward edges of the order lifecycle.
// Cancellation is handled separately and is allowed from any non-terminal
// state.
var validTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPendingPayment: {models.OrderAwaitingUse},
	models.OrderAwaitingUse:    {models.OrderInUse},
	models.OrderInUse:          {models.OrderCompleted},
}

const (
	refundRetries    = 3
	refundRetryDelay = 5 * time.Second
)

type OrderService struct {
	store    storage.Store
	payments *PaymentService
	producer *kafka.Producer
	log      *logger.Logger
	now      func() time.Time
}

func NewOrderService(store storage.Store, payments *PaymentService, producer *kafka.Producer, log *logger.Logger) *OrderService {
	return &OrderService{
		store:    store,
		payments: payments,
		producer: producer,
		log:      log,
		now:      time.Now,
	}
}

// CreateOrder opens a new order in pending_payment. Seat orders claim their
// time slot atomically; an overlapping reservation rejects the whole order.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	if !req.StartTime.Before(req.EndTime) {
		return nil, ErrInvalidTimeRange
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:        utils.GenerateOrderID(),
		UserID:    req.UserID,
		StoreID:   req.StoreID,
		SeatID:    req.SeatID,
		ServiceID: req.ServiceID,
		Status:    models.OrderPendingPayment,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var reservation *models.Reservation
	if req.SeatID != nil {
		reservation = &models.Reservation{
			UserID:    req.UserID,
			SeatID:    *req.SeatID,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			CreatedAt: now,
		}
	}

	if err := s.store.CreateOrderWithReservation(ctx, order, reservation); err != nil {
		if errors.Is(err, storage.ErrSeatUnavailable) {
			s.log.Warn("ORDER", fmt.Sprintf("Seat %d unavailable for %s - %s", *req.SeatID, req.StartTime, req.EndTime))
		}
		return nil, err
	}

	s.log.LogDatabase("SAVE", "orders", fmt.Sprintf("Order %s created for user %d", order.ID, order.UserID))
	s.publishOrderEvent("order.created", order)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *OrderService) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return s.store.ListOrders(ctx)
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	return s.store.ListUserOrders(ctx, userID)
}

// UpdateStatus moves an order one step forward along the lifecycle. Use
// Cancel for cancellation.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, storage.ErrOrderTerminal
	}
	if !transitionAllowed(order.Status, status) {
		s.log.Warn("ORDER", fmt.Sprintf("Rejected transition %s -> %s for order %s", order.Status, status, id))
		return nil, ErrInvalidTransition
	}

	if err := s.store.UpdateOrderStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.log.Info("ORDER", fmt.Sprintf("Order %s moved %s -> %s", id, order.Status, status))
	return s.store.GetOrder(ctx, id)
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancel terminates an order, releases its seat reservation and unwinds the
// attached payment: a paid payment is refunded, an open invoice is voided.
func (s *OrderService) Cancel(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.CancelOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("ORDER", fmt.Sprintf("Order %s cancelled", id))

	payment, err := s.store.GetPaymentByOrder(ctx, id)
	if err == nil {
		switch payment.Status {
		case models.PaymentPaid:
			go s.refundWithRetry(payment.ID)
		case models.PaymentPending:
			s.abandonPendingPayment(ctx, payment)
		}
	}

	s.publishOrderEvent("order.cancelled", order)
	return order, nil
}

// refundWithRetry pushes the refund through the gateway off the request
// path. Transient gateway errors are retried a few times; a permanent
// rejection is logged for manual follow-up.
func (s *OrderService) refundWithRetry(paymentID string) {
	for attempt := 1; attempt <= refundRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := s.payments.RefundPayment(ctx, paymentID, "order cancelled")
		cancel()

		if err == nil {
			return
		}
		if !errors.Is(err, qpay.ErrGatewayUnavailable) {
			s.log.Error("PAYMENT", fmt.Sprintf("Refund for payment %s rejected: %v", paymentID, err))
			return
		}
		s.log.Warn("PAYMENT", fmt.Sprintf("Refund attempt %d/%d for payment %s failed, gateway unavailable", attempt, refundRetries, paymentID))
		if attempt < refundRetries {
			time.Sleep(refundRetryDelay)
		}
	}
	s.log.Error("PAYMENT", fmt.Sprintf("Refund for payment %s gave up after %d attempts, needs manual follow-up", paymentID, refundRetries))
}

func (s *OrderService) abandonPendingPayment(ctx context.Context, payment *models.Payment) {
	if payment.ExternalInvoiceID != "" {
		if err := s.payments.gateway.CancelInvoice(ctx, payment.ExternalInvoiceID); err != nil {
			// Best effort: the reconciliation sweep will still never
			// confirm a cancelled order's payment.
			s.log.Warn("PAYMENT", fmt.Sprintf("Could not void invoice %s: %v", payment.ExternalInvoiceID, err))
		}
	}
	if _, err := s.store.FailPayment(ctx, payment.ID, s.now().UTC()); err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("Could not mark payment %s failed: %v", payment.ID, err))
	}
}

func (s *OrderService) publishOrderEvent(eventType string, order *models.Order) {
	event := &models.OrderEvent{
		Type:      eventType,
		OrderID:   order.ID,
		Order:     order,
		Timestamp: s.now().UTC(),
	}
	if err := s.producer.PublishOrderEvent(event); err != nil {
		s.log.Error("KAFKA", fmt.Sprintf("Failed to publish %s for order %s: %v", eventType, order.ID, err))
	}
}
