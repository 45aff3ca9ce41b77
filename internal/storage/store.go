package storage

import (
	"context"
	"errors"
	"time"

	"studyroom-backend/internal/models"
)

var (
	ErrSeatNotFound    = errors.New("seat not found")
	ErrSeatNotBookable = errors.New("seat not bookable")
	// ErrSeatUnavailable means an existing reservation overlaps the
	// requested window.
	ErrSeatUnavailable     = errors.New("seat unavailable for requested time slot")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderTerminal       = errors.New("order is in a terminal state")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentExists       = errors.New("payment already exists for order")
	ErrInvalidPaymentState = errors.New("payment state does not allow this transition")
	ErrMembershipNotFound  = errors.New("membership not found")
)

// Store is the persistence boundary. Multi-entity mutations that must be
// atomic (reserve+order, confirm, refund, recharge) are single methods so
// every implementation owns its own transaction.
type Store interface {
	// Seats
	SaveSeat(ctx context.Context, seat *models.Seat) error
	GetSeat(ctx context.Context, id int64) (*models.Seat, error)
	ListSeatReservations(ctx context.Context, seatID int64) ([]*models.Reservation, error)

	// Orders. CreateOrderWithReservation inserts the order and, when res is
	// non-nil, its reservation in one transaction; it fails with
	// ErrSeatUnavailable (nothing persisted) when the slot overlaps an
	// existing reservation for the seat.
	CreateOrderWithReservation(ctx context.Context, order *models.Order, res *models.Reservation) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]*models.Order, error)
	ListUserOrders(ctx context.Context, userID int64) ([]*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
	// CancelOrder marks the order cancelled and deletes its reservations
	// atomically. Terminal orders fail with ErrOrderTerminal.
	CancelOrder(ctx context.Context, id string) (*models.Order, error)
	// ReleaseReservations deletes all reservations for the order; no-op
	// when none exist.
	ReleaseReservations(ctx context.Context, orderID string) error

	// Payments
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByInvoice(ctx context.Context, invoiceID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	// ListPendingPayments returns pending payments that hold an external
	// invoice id and whose transaction time is at or after since.
	ListPendingPayments(ctx context.Context, since time.Time) ([]*models.Payment, error)
	// ConfirmPayment applies payment pending->paid, order
	// pending_payment->awaiting_use and appends one service_sale revenue
	// row, all atomically. A payment that is already paid is a no-op
	// (applied=false, nil error); failed/refunded payments return
	// ErrInvalidPaymentState.
	ConfirmPayment(ctx context.Context, paymentID, externalPaymentID string, at time.Time) (order *models.Order, applied bool, err error)
	// FailPayment applies pending->failed; already-failed is a no-op.
	FailPayment(ctx context.Context, paymentID string, at time.Time) (applied bool, err error)
	// RefundPayment applies paid->refunded and appends one negative refund
	// revenue row atomically. Any other starting state returns
	// ErrInvalidPaymentState.
	RefundPayment(ctx context.Context, paymentID string, at time.Time) error

	// Memberships
	SaveMembership(ctx context.Context, m *models.Membership) error
	GetMembershipByUser(ctx context.Context, userID int64) (*models.Membership, error)
	// RechargeMembership inserts the recharge record, increments the
	// balance, extends the expiry by three months and appends one
	// membership_recharge revenue row in a single transaction.
	RechargeMembership(ctx context.Context, rec *models.Recharge) (*models.Membership, error)
	ListRecharges(ctx context.Context, userID int64) ([]*models.Recharge, error)

	// Revenue ledger: append-only, no update path.
	AppendRevenue(ctx context.Context, rec *models.RevenueRecord) error
	ListRevenue(ctx context.Context, from, to time.Time) ([]*models.RevenueRecord, error)

	// Statistics
	CountOrdersByStore(ctx context.Context, from, to time.Time) (map[int64]int64, error)
}

// ExtendExpiry returns the recharge expiry extension: three months from the
// current expiry when it is set and in the future, otherwise from now.
func ExtendExpiry(current *time.Time, now time.Time) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 3, 0)
}
