package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"

	_ "github.com/go-sql-driver/mysql"

	"studyroom-backend/internal/config"
	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/models"
)

type MySQLStore struct {
	db  *bun.DB
	log *logger.Logger
}

func NewMySQLStore(cfg config.DatabaseConfig, log *logger.Logger) (*MySQLStore, error) {
	log.LogDatabase("CONNECT", "mysql", fmt.Sprintf("Connecting to MySQL at %s:%s", cfg.Host, cfg.Port))

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	sqldb, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MySQLStore{
		db:  bun.NewDB(sqldb, mysqldialect.New()),
		log: log,
	}

	if err := store.initTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.LogDatabase("SUCCESS", "mysql", "MySQL connection established and tables initialized")
	return store, nil
}

func (s *MySQLStore) initTables(ctx context.Context) error {
	tables := []interface{}{
		(*models.Seat)(nil),
		(*models.Reservation)(nil),
		(*models.Order)(nil),
		(*models.Payment)(nil),
		(*models.Membership)(nil),
		(*models.Recharge)(nil),
		(*models.RevenueRecord)(nil),
	}
	for _, model := range tables {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) Close() error {
	s.log.LogDatabase("CLOSE", "mysql", "Closing MySQL connection")
	return s.db.Close()
}

func (s *MySQLStore) HealthCheck() error {
	return s.db.Ping()
}

// Seats

func (s *MySQLStore) SaveSeat(ctx context.Context, seat *models.Seat) error {
	_, err := s.db.NewInsert().Model(seat).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save seat: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetSeat(ctx context.Context, id int64) (*models.Seat, error) {
	seat := new(models.Seat)
	err := s.db.NewSelect().Model(seat).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeatNotFound
		}
		return nil, fmt.Errorf("failed to get seat: %w", err)
	}
	return seat, nil
}

func (s *MySQLStore) ListSeatReservations(ctx context.Context, seatID int64) ([]*models.Reservation, error) {
	var reservations []*models.Reservation
	err := s.db.NewSelect().Model(&reservations).
		Where("seat_id = ?", seatID).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}

// Orders

func (s *MySQLStore) CreateOrderWithReservation(ctx context.Context, order *models.Order, res *models.Reservation) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if res != nil {
			// Locking the seat row serializes concurrent reservation
			// attempts for the same seat; the overlap check below is then
			// race-free within the transaction.
			seat := new(models.Seat)
			err := tx.NewSelect().Model(seat).Where("id = ?", res.SeatID).For("UPDATE").Scan(ctx)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrSeatNotFound
				}
				return err
			}
			if seat.Status == models.SeatRetired {
				return ErrSeatNotBookable
			}

			var overlapping []*models.Reservation
			err = tx.NewSelect().Model(&overlapping).
				Where("seat_id = ? AND start_time < ? AND end_time > ?", res.SeatID, res.EndTime, res.StartTime).
				Limit(1).
				Scan(ctx)
			if err != nil {
				return err
			}
			if len(overlapping) > 0 {
				return ErrSeatUnavailable
			}
		}

		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if res != nil {
			res.OrderID = order.ID
			if _, err := tx.NewInsert().Model(res).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MySQLStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order := new(models.Order)
	err := s.db.NewSelect().Model(order).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (s *MySQLStore) ListOrders(ctx context.Context) ([]*models.Order, error) {
	var orders []*models.Order
	err := s.db.NewSelect().Model(&orders).Order("created_at DESC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *MySQLStore) ListUserOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	var orders []*models.Order
	err := s.db.NewSelect().Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orders: %w", err)
	}
	return orders, nil
}

func (s *MySQLStore) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	result, err := s.db.NewUpdate().Model((*models.Order)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *MySQLStore) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	var out *models.Order
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		order := new(models.Order)
		err := tx.NewSelect().Model(order).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status.Terminal() {
			return ErrOrderTerminal
		}

		order.Status = models.OrderCancelled
		order.UpdatedAt = time.Now().UTC()
		if _, err := tx.NewUpdate().Model(order).Column("status", "updated_at").WherePK().Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*models.Reservation)(nil)).Where("order_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

func (s *MySQLStore) ReleaseReservations(ctx context.Context, orderID string) error {
	_, err := s.db.NewDelete().Model((*models.Reservation)(nil)).Where("order_id = ?", orderID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to release reservations: %w", err)
	}
	return nil
}

// Payments

func (s *MySQLStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	_, err := s.db.NewInsert().Model(payment).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.db.NewSelect().Model(payment).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

func (s *MySQLStore) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.db.NewSelect().Model(payment).Where("order_id = ?", orderID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by order: %w", err)
	}
	return payment, nil
}

func (s *MySQLStore) GetPaymentByInvoice(ctx context.Context, invoiceID string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.db.NewSelect().Model(payment).Where("external_invoice_id = ?", invoiceID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by invoice: %w", err)
	}
	return payment, nil
}

func (s *MySQLStore) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	result, err := s.db.NewUpdate().Model(payment).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *MySQLStore) ListPendingPayments(ctx context.Context, since time.Time) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := s.db.NewSelect().Model(&payments).
		Where("status = ?", models.PaymentPending).
		Where("external_invoice_id IS NOT NULL").
		Where("transaction_time >= ?", since).
		Order("transaction_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	return payments, nil
}

func (s *MySQLStore) ConfirmPayment(ctx context.Context, paymentID, externalPaymentID string, at time.Time) (*models.Order, bool, error) {
	var out *models.Order
	applied := false
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		payment := new(models.Payment)
		err := tx.NewSelect().Model(payment).Where("id = ?", paymentID).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return err
		}

		switch payment.Status {
		case models.PaymentPaid:
			// Duplicate callback or a poller/webhook race: already applied.
			order := new(models.Order)
			if err := tx.NewSelect().Model(order).Where("id = ?", payment.OrderID).Scan(ctx); err == nil {
				out = order
			}
			return nil
		case models.PaymentPending:
		default:
			return ErrInvalidPaymentState
		}

		payment.Status = models.PaymentPaid
		payment.ExternalPaymentID = externalPaymentID
		payment.TransactionTime = at
		payment.UpdatedAt = at
		if _, err := tx.NewUpdate().Model(payment).WherePK().Exec(ctx); err != nil {
			return err
		}

		order := new(models.Order)
		err = tx.NewSelect().Model(order).Where("id = ?", payment.OrderID).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status == models.OrderPendingPayment {
			order.Status = models.OrderAwaitingUse
			order.UpdatedAt = at
			if _, err := tx.NewUpdate().Model(order).Column("status", "updated_at").WherePK().Exec(ctx); err != nil {
				return err
			}
		}

		revenue := &models.RevenueRecord{
			Type:      models.RevenueServiceSale,
			Amount:    payment.Amount,
			OrderID:   payment.OrderID,
			CreatedAt: at,
		}
		if _, err := tx.NewInsert().Model(revenue).Exec(ctx); err != nil {
			return err
		}

		out = order
		applied = true
		return nil
	})
	return out, applied, err
}

func (s *MySQLStore) FailPayment(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	applied := false
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		payment := new(models.Payment)
		err := tx.NewSelect().Model(payment).Where("id = ?", paymentID).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return err
		}

		switch payment.Status {
		case models.PaymentFailed:
			return nil
		case models.PaymentPending:
		default:
			return ErrInvalidPaymentState
		}

		payment.Status = models.PaymentFailed
		payment.UpdatedAt = at
		if _, err := tx.NewUpdate().Model(payment).WherePK().Exec(ctx); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *MySQLStore) RefundPayment(ctx context.Context, paymentID string, at time.Time) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		payment := new(models.Payment)
		err := tx.NewSelect().Model(payment).Where("id = ?", paymentID).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return err
		}
		if payment.Status != models.PaymentPaid {
			return ErrInvalidPaymentState
		}

		payment.Status = models.PaymentRefunded
		payment.UpdatedAt = at
		if _, err := tx.NewUpdate().Model(payment).WherePK().Exec(ctx); err != nil {
			return err
		}

		revenue := &models.RevenueRecord{
			Type:      models.RevenueRefund,
			Amount:    -payment.Amount,
			OrderID:   payment.OrderID,
			CreatedAt: at,
		}
		_, err = tx.NewInsert().Model(revenue).Exec(ctx)
		return err
	})
}

// Memberships

func (s *MySQLStore) SaveMembership(ctx context.Context, m *models.Membership) error {
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetMembershipByUser(ctx context.Context, userID int64) (*models.Membership, error) {
	m := new(models.Membership)
	err := s.db.NewSelect().Model(m).Where("user_id = ?", userID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (s *MySQLStore) RechargeMembership(ctx context.Context, rec *models.Recharge) (*models.Membership, error) {
	var out *models.Membership
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		m := new(models.Membership)
		err := tx.NewSelect().Model(m).Where("user_id = ?", rec.UserID).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrMembershipNotFound
			}
			return err
		}

		if _, err := tx.NewInsert().Model(rec).Exec(ctx); err != nil {
			return err
		}

		expiry := ExtendExpiry(m.ExpiresAt, rec.CreatedAt)
		m.Balance += rec.Amount
		m.ExpiresAt = &expiry
		m.UpdatedAt = rec.CreatedAt
		if _, err := tx.NewUpdate().Model(m).Column("balance", "expires_at", "updated_at").WherePK().Exec(ctx); err != nil {
			return err
		}

		revenue := &models.RevenueRecord{
			Type:      models.RevenueMembershipRecharge,
			Amount:    rec.Amount,
			CreatedAt: rec.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(revenue).Exec(ctx); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (s *MySQLStore) ListRecharges(ctx context.Context, userID int64) ([]*models.Recharge, error) {
	var recharges []*models.Recharge
	err := s.db.NewSelect().Model(&recharges).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list recharges: %w", err)
	}
	return recharges, nil
}

// Revenue ledger

func (s *MySQLStore) AppendRevenue(ctx context.Context, rec *models.RevenueRecord) error {
	_, err := s.db.NewInsert().Model(rec).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append revenue record: %w", err)
	}
	return nil
}

func (s *MySQLStore) ListRevenue(ctx context.Context, from, to time.Time) ([]*models.RevenueRecord, error) {
	var records []*models.RevenueRecord
	q := s.db.NewSelect().Model(&records).Order("created_at DESC")
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list revenue records: %w", err)
	}
	return records, nil
}

// Statistics

func (s *MySQLStore) CountOrdersByStore(ctx context.Context, from, to time.Time) (map[int64]int64, error) {
	var rows []struct {
		StoreID int64 `bun:"store_id"`
		Count   int64 `bun:"cnt"`
	}
	q := s.db.NewSelect().Model((*models.Order)(nil)).
		Column("store_id").
		ColumnExpr("count(*) AS cnt").
		Group("store_id")
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to count orders by store: %w", err)
	}

	counts := make(map[int64]int64, len(rows))
	for _, row := range rows {
		counts[row.StoreID] = row.Count
	}
	return counts, nil
}
