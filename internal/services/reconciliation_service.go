package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

const (
	defaultPendingPaymentTimeout = 30 * time.Minute
	defaultReconcileBatchSize    = 50
	defaultReconcileConcurrency  = 4
)

// ReconciliationServiceDeps wires the dependencies required by the sweep.
type ReconciliationServiceDeps struct {
	PendingOrders repositories.PendingOrderRepository
	Orders        OrderCanceler
	Publisher     EventPublisher
	// PendingPaymentTimeout is how long an order may sit in pending_payment
	// before the sweep cancels it.
	PendingPaymentTimeout time.Duration
	BatchSize             int
	Concurrency           int
	Clock                 func() time.Time
	Logger                func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	pendingOrders repositories.PendingOrderRepository
	orders        OrderCanceler
	publisher     EventPublisher
	timeout       time.Duration
	batchSize     int
	concurrency   int
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewReconciliationService constructs a ReconciliationService validating
// required dependencies.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.PendingOrders == nil {
		return nil, errors.New("reconciliation service: pending order repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order canceler is required")
	}

	timeout := deps.PendingPaymentTimeout
	if timeout <= 0 {
		timeout = defaultPendingPaymentTimeout
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReconcileBatchSize
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultReconcileConcurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconciliationService{
		pendingOrders: deps.PendingOrders,
		orders:        deps.Orders,
		publisher:     deps.Publisher,
		timeout:       timeout,
		batchSize:     batchSize,
		concurrency:   concurrency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep cancels orders stuck in pending_payment past the timeout. Each entry
// is claimed with a compare-and-swap so a concurrent sweep or a late submit
// cannot race it; a claim that loses is counted as skipped, not failed.
func (s *reconciliationService) Sweep(ctx context.Context) (SweepStats, error) {
	cutoff := s.now().Add(-s.timeout)
	stale, err := s.pendingOrders.ListStale(ctx, cutoff, s.batchSize)
	if err != nil {
		return SweepStats{}, err
	}
	if len(stale) == 0 {
		return SweepStats{}, nil
	}

	var canceled, skipped, failed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, entry := range stale {
		entry := entry
		group.Go(func() error {
			switch s.reconcile(groupCtx, entry) {
			case reconcileCanceled:
				canceled.Add(1)
			case reconcileSkipped:
				skipped.Add(1)
			case reconcileFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()

	stats := SweepStats{
		Scanned:  len(stale),
		Canceled: int(canceled.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}
	s.logger(ctx, "checkout.reconcile.sweep", map[string]any{
		"scanned":  stats.Scanned,
		"canceled": stats.Canceled,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
	})
	return stats, nil
}

type reconcileOutcome int

const (
	reconcileCanceled reconcileOutcome = iota
	reconcileSkipped
	reconcileFailed
)

func (s *reconciliationService) reconcile(ctx context.Context, entry domain.PendingOrder) reconcileOutcome {
	if _, err := s.pendingOrders.UpdateStatus(ctx, entry.OrderID,
		domain.PendingOrderStatusPendingPayment, domain.PendingOrderStatusCanceled); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && (repoErr.IsConflict() || repoErr.IsNotFound()) {
			// Someone else moved the entry on; nothing left to do here.
			return reconcileSkipped
		}
		s.logger(ctx, "checkout.reconcile.claim_failed", map[string]any{
			"orderId": entry.OrderID,
			"error":   err.Error(),
		})
		return reconcileFailed
	}

	if err := s.orders.CancelOrder(ctx, entry.OrderID); err != nil {
		// Hand the entry back so the next sweep retries the upstream cancel.
		if _, revertErr := s.pendingOrders.UpdateStatus(ctx, entry.OrderID,
			domain.PendingOrderStatusCanceled, domain.PendingOrderStatusPendingPayment); revertErr != nil {
			s.logger(ctx, "checkout.reconcile.revert_failed", map[string]any{
				"orderId": entry.OrderID,
				"error":   revertErr.Error(),
			})
		}
		s.logger(ctx, "checkout.reconcile.cancel_failed", map[string]any{
			"orderId": entry.OrderID,
			"error":   err.Error(),
		})
		return reconcileFailed
	}

	if s.publisher != nil {
		if _, err := s.publisher.PublishCheckoutEvent(ctx, CheckoutEvent{
			Type:       EventOrderReconciled,
			SessionID:  entry.SessionID,
			OrderID:    entry.OrderID,
			UserID:     entry.UserID,
			Amount:     entry.Amount,
			OccurredAt: s.now(),
		}); err != nil {
			s.logger(ctx, "checkout.event.publish_failed", map[string]any{
				"type":  EventOrderReconciled,
				"error": err.Error(),
			})
		}
	}

	s.logger(ctx, "checkout.reconcile.canceled", map[string]any{
		"orderId":   entry.OrderID,
		"sessionId": entry.SessionID,
	})
	return reconcileCanceled
}
