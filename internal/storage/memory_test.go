package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom-backend/internal/models"
)

func seedSeat(t *testing.T, store *InMemoryStore, status models.SeatStatus) *models.Seat {
	t.Helper()
	seat := &models.Seat{
		StoreID:    1,
		SeatNumber: "A-12",
		SeatType:   "standard",
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveSeat(context.Background(), seat))
	return seat
}

func newOrder(id string, seatID *int64, start, end time.Time) *models.Order {
	return &models.Order{
		ID:        id,
		UserID:    42,
		StoreID:   1,
		SeatID:    seatID,
		Status:    models.OrderPendingPayment,
		StartTime: start,
		EndTime:   end,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func newReservation(seatID int64, start, end time.Time) *models.Reservation {
	return &models.Reservation{
		UserID:    42,
		SeatID:    seatID,
		StartTime: start,
		EndTime:   end,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateOrderWithReservation_OverlapRejected(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	seat := seedSeat(t, store, models.SeatBookable)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	err := store.CreateOrderWithReservation(ctx,
		newOrder("ord_1", &seat.ID, at(14, 0), at(15, 0)),
		newReservation(seat.ID, at(14, 0), at(15, 0)))
	require.NoError(t, err)

	// Partial overlap with the committed slot.
	err = store.CreateOrderWithReservation(ctx,
		newOrder("ord_2", &seat.ID, at(14, 30), at(15, 30)),
		newReservation(seat.ID, at(14, 30), at(15, 30)))
	assert.ErrorIs(t, err, ErrSeatUnavailable)

	// Nothing from the rejected attempt may be persisted.
	_, err = store.GetOrder(ctx, "ord_2")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	reservations, err := store.ListSeatReservations(ctx, seat.ID)
	require.NoError(t, err)
	assert.Len(t, reservations, 1)

	// Abutting slot is legal: intervals are half-open.
	err = store.CreateOrderWithReservation(ctx,
		newOrder("ord_3", &seat.ID, at(15, 0), at(16, 0)),
		newReservation(seat.ID, at(15, 0), at(16, 0)))
	assert.NoError(t, err)
}

func TestCreateOrderWithReservation_ContainedAndSpanningOverlaps(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	seat := seedSeat(t, store, models.SeatBookable)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateOrderWithReservation(ctx,
		newOrder("ord_base", &seat.ID, base, base.Add(2*time.Hour)),
		newReservation(seat.ID, base, base.Add(2*time.Hour))))

	cases := []struct {
		name       string
		start, end time.Time
		wantErr    error
	}{
		{"contained", base.Add(30 * time.Minute), base.Add(time.Hour), ErrSeatUnavailable},
		{"spanning", base.Add(-time.Hour), base.Add(3 * time.Hour), ErrSeatUnavailable},
		{"identical", base, base.Add(2 * time.Hour), ErrSeatUnavailable},
		{"before abutting", base.Add(-time.Hour), base, nil},
		{"after abutting", base.Add(2 * time.Hour), base.Add(3 * time.Hour), nil},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := "ord_case_" + string(rune('a'+i))
			err := store.CreateOrderWithReservation(ctx,
				newOrder(id, &seat.ID, tc.start, tc.end),
				newReservation(seat.ID, tc.start, tc.end))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateOrderWithReservation_SeatChecks(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	retired := seedSeat(t, store, models.SeatRetired)

	start := time.Now().UTC()
	end := start.Add(time.Hour)

	err := store.CreateOrderWithReservation(ctx,
		newOrder("ord_retired", &retired.ID, start, end),
		newReservation(retired.ID, start, end))
	assert.ErrorIs(t, err, ErrSeatNotBookable)

	missing := int64(999)
	err = store.CreateOrderWithReservation(ctx,
		newOrder("ord_missing", &missing, start, end),
		newReservation(missing, start, end))
	assert.ErrorIs(t, err, ErrSeatNotFound)

	// Service-only order carries no reservation and needs no seat.
	err = store.CreateOrderWithReservation(ctx, newOrder("ord_service", nil, start, end), nil)
	assert.NoError(t, err)
}

func TestCancelOrder_ReleasesSlotForRebooking(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	seat := seedSeat(t, store, models.SeatBookable)

	start := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	require.NoError(t, store.CreateOrderWithReservation(ctx,
		newOrder("ord_cancel", &seat.ID, start, end),
		newReservation(seat.ID, start, end)))

	cancelled, err := store.CancelOrder(ctx, "ord_cancel")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)

	reservations, err := store.ListSeatReservations(ctx, seat.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations)

	// The exact same window is bookable again.
	err = store.CreateOrderWithReservation(ctx,
		newOrder("ord_rebook", &seat.ID, start, end),
		newReservation(seat.ID, start, end))
	assert.NoError(t, err)

	// Cancelling a terminal order is rejected.
	_, err = store.CancelOrder(ctx, "ord_cancel")
	assert.ErrorIs(t, err, ErrOrderTerminal)
}

func TestReleaseReservations_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	assert.NoError(t, store.ReleaseReservations(ctx, "ord_nothing"))
	assert.NoError(t, store.ReleaseReservations(ctx, "ord_nothing"))
}

func TestConfirmPayment_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.CreateOrderWithReservation(ctx, newOrder("ord_pay", nil, now, now.Add(time.Hour)), nil))
	require.NoError(t, store.SavePayment(ctx, &models.Payment{
		ID:                "pay_1",
		OrderID:           "ord_pay",
		Amount:            25.0,
		Method:            "qpay",
		Status:            models.PaymentPending,
		ExternalInvoiceID: "inv_1",
		TransactionTime:   now,
		UpdatedAt:         now,
	}))

	order, applied, err := store.ConfirmPayment(ctx, "pay_1", "qp_abc", now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.OrderAwaitingUse, order.Status)

	// Duplicate confirmation is a no-op: no second transition, no second
	// revenue row.
	order, applied, err = store.ConfirmPayment(ctx, "pay_1", "qp_abc", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.OrderAwaitingUse, order.Status)

	records, err := store.ListRevenue(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RevenueServiceSale, records[0].Type)
	assert.Equal(t, 25.0, records[0].Amount)
	assert.Equal(t, "ord_pay", records[0].OrderID)

	payment, err := store.GetPayment(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, payment.Status)
	assert.Equal(t, "qp_abc", payment.ExternalPaymentID)
}

func TestConfirmPayment_RejectedFromTerminalPaymentStates(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.CreateOrderWithReservation(ctx, newOrder("ord_f", nil, now, now.Add(time.Hour)), nil))
	require.NoError(t, store.SavePayment(ctx, &models.Payment{
		ID: "pay_f", OrderID: "ord_f", Amount: 10, Status: models.PaymentPending, TransactionTime: now,
	}))

	applied, err := store.FailPayment(ctx, "pay_f", now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Confirming a failed payment must not flip it to paid.
	_, _, err = store.ConfirmPayment(ctx, "pay_f", "qp_x", now)
	assert.ErrorIs(t, err, ErrInvalidPaymentState)

	// Failing again is a quiet no-op.
	applied, err = store.FailPayment(ctx, "pay_f", now)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestRefundPayment_WritesNegativeRevenue(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.CreateOrderWithReservation(ctx, newOrder("ord_r", nil, now, now.Add(time.Hour)), nil))
	require.NoError(t, store.SavePayment(ctx, &models.Payment{
		ID: "pay_r", OrderID: "ord_r", Amount: 40, Status: models.PaymentPending, TransactionTime: now,
	}))

	// Refund before payment is rejected.
	err := store.RefundPayment(ctx, "pay_r", now)
	assert.ErrorIs(t, err, ErrInvalidPaymentState)

	_, _, err = store.ConfirmPayment(ctx, "pay_r", "qp_r", now)
	require.NoError(t, err)
	require.NoError(t, store.RefundPayment(ctx, "pay_r", now.Add(time.Minute)))

	payment, err := store.GetPayment(ctx, "pay_r")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, payment.Status)

	records, err := store.ListRevenue(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	var total float64
	for _, rec := range records {
		total += rec.Amount
	}
	assert.Equal(t, 0.0, total)
}

func TestListPendingPayments_FiltersInvoiceAndWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.SavePayment(ctx, &models.Payment{
		ID: "pay_recent", OrderID: "o1", Status: models.PaymentPending,
		ExternalInvoiceID: "inv_a", TransactionTime: now.Add(-time.Hour),
	}))
	require.NoError(t, store.SavePayment(ctx, &models.Payment{
		ID: "pay_old", OrderID: "o2", Status: models.PaymentPending,
		ExternalInvoiceID: "inv_b", TransactionTime: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, store.SavePayment(ctx, &models.Payment{
		ID: "pay_noinv", OrderID: "o3", Status: models.PaymentPending,
		TransactionTime: now.Add(-time.Hour),
	}))
	require.NoError(t, store.SavePayment(ctx, &models.Payment{
		ID: "pay_done", OrderID: "o4", Status: models.PaymentPaid,
		ExternalInvoiceID: "inv_c", TransactionTime: now.Add(-time.Hour),
	}))

	pending, err := store.ListPendingPayments(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pay_recent", pending[0].ID)
}

func TestRechargeMembership(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveMembership(ctx, &models.Membership{
		UserID: 7, Balance: 100, CreatedAt: now, UpdatedAt: now,
	}))

	m, err := store.RechargeMembership(ctx, &models.Recharge{
		ID: "rcg_1", UserID: 7, Amount: 500, Status: "completed", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 600.0, m.Balance)
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 3, 0), *m.ExpiresAt)

	// A second recharge before expiry stacks on the current expiry.
	later := now.AddDate(0, 1, 0)
	m, err = store.RechargeMembership(ctx, &models.Recharge{
		ID: "rcg_2", UserID: 7, Amount: 200, Status: "completed", CreatedAt: later,
	})
	require.NoError(t, err)
	assert.Equal(t, 800.0, m.Balance)
	assert.Equal(t, now.AddDate(0, 6, 0), *m.ExpiresAt)

	records, err := store.ListRevenue(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, models.RevenueMembershipRecharge, rec.Type)
	}

	_, err = store.RechargeMembership(ctx, &models.Recharge{ID: "rcg_3", UserID: 99, Amount: 10, CreatedAt: now})
	assert.ErrorIs(t, err, ErrMembershipNotFound)
}

func TestExtendExpiry(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// No prior expiry: three months from now.
	assert.Equal(t, now.AddDate(0, 3, 0), ExtendExpiry(nil, now))

	// Lapsed expiry restarts from now.
	past := now.AddDate(0, -1, 0)
	assert.Equal(t, now.AddDate(0, 3, 0), ExtendExpiry(&past, now))

	// Active expiry extends from the current expiry.
	future := now.AddDate(0, 2, 0)
	assert.Equal(t, future.AddDate(0, 3, 0), ExtendExpiry(&future, now))
}

func TestCountOrdersByStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	for i, storeID := range []int64{1, 1, 2} {
		order := newOrder("ord_cnt_"+string(rune('a'+i)), nil, now, now.Add(time.Hour))
		order.StoreID = storeID
		require.NoError(t, store.CreateOrderWithReservation(ctx, order, nil))
	}

	counts, err := store.CountOrdersByStore(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 2, 2: 1}, counts)
}
