package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"studyroom-backend/internal/models"
)

// InMemoryStore implements Store with plain maps. Used by unit tests and by
// local development when MySQL is not running. Values are copied on the way
// in and out so callers cannot mutate stored state.
type InMemoryStore struct {
	mu sync.RWMutex

	seats        map[int64]*models.Seat
	reservations map[int64]*models.Reservation
	orders       map[string]*models.Order
	payments     map[string]*models.Payment
	memberships  map[int64]*models.Membership
	recharges    map[string]*models.Recharge
	revenue      []*models.RevenueRecord

	nextSeatID        int64
	nextReservationID int64
	nextMembershipID  int64
	nextRevenueID     int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		seats:        make(map[int64]*models.Seat),
		reservations: make(map[int64]*models.Reservation),
		orders:       make(map[string]*models.Order),
		payments:     make(map[string]*models.Payment),
		memberships:  make(map[int64]*models.Membership),
		recharges:    make(map[string]*models.Recharge),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) HealthCheck() error { return nil }

// Seats

func (s *InMemoryStore) SaveSeat(ctx context.Context, seat *models.Seat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seat.ID == 0 {
		s.nextSeatID++
		seat.ID = s.nextSeatID
	}
	cp := *seat
	s.seats[seat.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetSeat(ctx context.Context, id int64) (*models.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seat, ok := s.seats[id]
	if !ok {
		return nil, ErrSeatNotFound
	}
	cp := *seat
	return &cp, nil
}

func (s *InMemoryStore) ListSeatReservations(ctx context.Context, seatID int64) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.SeatID == seatID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// Orders

func (s *InMemoryStore) CreateOrderWithReservation(ctx context.Context, order *models.Order, res *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res != nil {
		seat, ok := s.seats[res.SeatID]
		if !ok {
			return ErrSeatNotFound
		}
		if seat.Status == models.SeatRetired {
			return ErrSeatNotBookable
		}
		for _, existing := range s.reservations {
			if existing.SeatID == res.SeatID && existing.Overlaps(res.StartTime, res.EndTime) {
				return ErrSeatUnavailable
			}
		}
	}

	ocp := *order
	s.orders[order.ID] = &ocp
	if res != nil {
		s.nextReservationID++
		res.ID = s.nextReservationID
		res.OrderID = order.ID
		rcp := *res
		s.reservations[res.ID] = &rcp
	}
	return nil
}

func (s *InMemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOrderLocked(id)
}

func (s *InMemoryStore) getOrderLocked(id string) (*models.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *InMemoryStore) ListOrders(ctx context.Context) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListUserOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.Status.Terminal() {
		return nil, ErrOrderTerminal
	}
	order.Status = models.OrderCancelled
	order.UpdatedAt = time.Now().UTC()
	s.releaseReservationsLocked(id)
	cp := *order
	return &cp, nil
}

func (s *InMemoryStore) ReleaseReservations(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseReservationsLocked(orderID)
	return nil
}

func (s *InMemoryStore) releaseReservationsLocked(orderID string) {
	for id, r := range s.reservations {
		if r.OrderID == orderID {
			delete(s.reservations, id)
		}
	}
}

// Payments

func (s *InMemoryStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *payment
	s.payments[payment.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *InMemoryStore) GetPaymentByInvoice(ctx context.Context, invoiceID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ExternalInvoiceID != "" && p.ExternalInvoiceID == invoiceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *InMemoryStore) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[payment.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *payment
	s.payments[payment.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListPendingPayments(ctx context.Context, since time.Time) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentPending && p.ExternalInvoiceID != "" && !p.TransactionTime.Before(since) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionTime.Before(out[j].TransactionTime) })
	return out, nil
}

func (s *InMemoryStore) ConfirmPayment(ctx context.Context, paymentID, externalPaymentID string, at time.Time) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, false, ErrPaymentNotFound
	}

	switch payment.Status {
	case models.PaymentPaid:
		order, _ := s.getOrderLocked(payment.OrderID)
		return order, false, nil
	case models.PaymentPending:
	default:
		return nil, false, ErrInvalidPaymentState
	}

	payment.Status = models.PaymentPaid
	payment.ExternalPaymentID = externalPaymentID
	payment.TransactionTime = at
	payment.UpdatedAt = at

	order, ok := s.orders[payment.OrderID]
	if !ok {
		return nil, false, ErrOrderNotFound
	}
	if order.Status == models.OrderPendingPayment {
		order.Status = models.OrderAwaitingUse
		order.UpdatedAt = at
	}

	s.appendRevenueLocked(&models.RevenueRecord{
		Type:      models.RevenueServiceSale,
		Amount:    payment.Amount,
		OrderID:   payment.OrderID,
		CreatedAt: at,
	})

	cp := *order
	return &cp, true, nil
}

func (s *InMemoryStore) FailPayment(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return false, ErrPaymentNotFound
	}
	switch payment.Status {
	case models.PaymentFailed:
		return false, nil
	case models.PaymentPending:
	default:
		return false, ErrInvalidPaymentState
	}

	payment.Status = models.PaymentFailed
	payment.UpdatedAt = at
	return true, nil
}

func (s *InMemoryStore) RefundPayment(ctx context.Context, paymentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if payment.Status != models.PaymentPaid {
		return ErrInvalidPaymentState
	}

	payment.Status = models.PaymentRefunded
	payment.UpdatedAt = at

	s.appendRevenueLocked(&models.RevenueRecord{
		Type:      models.RevenueRefund,
		Amount:    -payment.Amount,
		OrderID:   payment.OrderID,
		CreatedAt: at,
	})
	return nil
}

// Memberships

func (s *InMemoryStore) SaveMembership(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.nextMembershipID++
		m.ID = s.nextMembershipID
	}
	cp := *m
	s.memberships[m.UserID] = &cp
	return nil
}

func (s *InMemoryStore) GetMembershipByUser(ctx context.Context, userID int64) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[userID]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) RechargeMembership(ctx context.Context, rec *models.Recharge) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[rec.UserID]
	if !ok {
		return nil, ErrMembershipNotFound
	}

	rcp := *rec
	s.recharges[rec.ID] = &rcp

	expiry := ExtendExpiry(m.ExpiresAt, rec.CreatedAt)
	m.Balance += rec.Amount
	m.ExpiresAt = &expiry
	m.UpdatedAt = rec.CreatedAt

	s.appendRevenueLocked(&models.RevenueRecord{
		Type:      models.RevenueMembershipRecharge,
		Amount:    rec.Amount,
		CreatedAt: rec.CreatedAt,
	})

	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) ListRecharges(ctx context.Context, userID int64) ([]*models.Recharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Recharge
	for _, r := range s.recharges {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Revenue ledger

func (s *InMemoryStore) AppendRevenue(ctx context.Context, rec *models.RevenueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendRevenueLocked(rec)
	return nil
}

func (s *InMemoryStore) appendRevenueLocked(rec *models.RevenueRecord) {
	s.nextRevenueID++
	rec.ID = s.nextRevenueID
	cp := *rec
	s.revenue = append(s.revenue, &cp)
}

func (s *InMemoryStore) ListRevenue(ctx context.Context, from, to time.Time) ([]*models.RevenueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RevenueRecord
	for _, r := range s.revenue {
		if !from.IsZero() && r.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && r.CreatedAt.After(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Statistics

func (s *InMemoryStore) CountOrdersByStore(ctx context.Context, from, to time.Time) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int64)
	for _, o := range s.orders {
		if !from.IsZero() && o.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && o.CreatedAt.After(to) {
			continue
		}
		counts[o.StoreID]++
	}
	return counts, nil
}
