package services

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/storage"
)

// SweepLock serializes the reconciliation sweep across instances. A nil
// lock means single-instance deployment and only the in-process guard
// applies.
type SweepLock interface {
	AcquireSweepLock(ctx context.Context, owner string) (bool, error)
	ReleaseSweepLock(ctx context.Context, owner string) error
}

// Reconciler periodically re-checks pending payments against the gateway.
// It closes the gap left by lost webhooks: any verdict the callback missed
// is picked up by the next sweep.
type Reconciler struct {
	store    storage.Store
	payments *PaymentService
	lock     SweepLock
	log      *logger.Logger
	interval time.Duration
	lookback time.Duration
	now      func() time.Time

	owner   string
	running int32
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReconciler(store storage.Store, payments *PaymentService, lock SweepLock, log *logger.Logger, interval, lookback time.Duration) *Reconciler {
	host, _ := os.Hostname()
	return &Reconciler{
		store:    store,
		payments: payments,
		lock:     lock,
		log:      log,
		interval: interval,
		lookback: lookback,
		now:      time.Now,
		owner:    fmt.Sprintf("%s-%d", host, os.Getpid()),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *Reconciler) Start() {
	go func() {
		defer close(r.doneCh)
		r.log.LogProcess("RECONCILER", fmt.Sprintf("Sweeping pending payments every %s, lookback %s", r.interval, r.lookback))

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.RunOnce(context.Background())
			case <-r.stopCh:
				r.log.LogProcess("RECONCILER", "Sweep loop stopped")
				return
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// RunOnce performs a single sweep. Overlapping runs are skipped rather than
// queued: a sweep that outlives the interval must not stack behind itself.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		r.log.Warn("RECONCILER", "Previous sweep still running, skipping")
		return
	}
	defer atomic.StoreInt32(&r.running, 0)

	if r.lock != nil {
		ok, err := r.lock.AcquireSweepLock(ctx, r.owner)
		if err != nil {
			r.log.Error("RECONCILER", fmt.Sprintf("Sweep lock error: %v", err))
			return
		}
		if !ok {
			r.log.Debug("RECONCILER", "Another instance holds the sweep lock")
			return
		}
		defer func() {
			if err := r.lock.ReleaseSweepLock(ctx, r.owner); err != nil {
				r.log.Warn("RECONCILER", fmt.Sprintf("Sweep lock release failed: %v", err))
			}
		}()
	}

	since := r.now().UTC().Add(-r.lookback)
	pending, err := r.store.ListPendingPayments(ctx, since)
	if err != nil {
		r.log.Error("RECONCILER", fmt.Sprintf("Failed to list pending payments: %v", err))
		return
	}
	if len(pending) == 0 {
		return
	}
	r.log.LogProcess("RECONCILER", fmt.Sprintf("Checking %d pending payments", len(pending)))

	resolved := 0
	for _, payment := range pending {
		result, err := r.payments.gateway.CheckPayment(ctx, payment.ExternalInvoiceID)
		if err != nil {
			// One unreachable check must not abort the sweep.
			r.log.Warn("RECONCILER", fmt.Sprintf("Check failed for payment %s: %v", payment.ID, err))
			continue
		}
		applied, err := r.payments.ApplyGatewayStatus(ctx, payment, result)
		if err != nil {
			r.log.Error("RECONCILER", fmt.Sprintf("Could not apply %s verdict to payment %s: %v", result.Status, payment.ID, err))
			continue
		}
		if applied {
			resolved++
		}
	}
	r.log.LogProcess("RECONCILER", fmt.Sprintf("Sweep done, %d of %d payments resolved", resolved, len(pending)))
}
