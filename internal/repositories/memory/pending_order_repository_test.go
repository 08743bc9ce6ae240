package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

func newPendingOrder(id string, updatedAt time.Time) domain.PendingOrder {
	return domain.PendingOrder{
		OrderID:   id,
		SessionID: "cs_1",
		UserID:    "user-1",
		ProductID: "prod-1",
		Amount:    17998,
		Status:    domain.PendingOrderStatusPendingPayment,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestPendingOrderRepositoryCreateAndGet(t *testing.T) {
	repo := NewPendingOrderRepository()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if err := repo.Create(ctx, newPendingOrder("ord_1", now)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := repo.Create(ctx, newPendingOrder("ord_1", now)); err == nil {
		t.Fatal("expected conflict for duplicate order id")
	}

	got, err := repo.Get(ctx, "ord_1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != domain.PendingOrderStatusPendingPayment {
		t.Fatalf("unexpected status %q", got.Status)
	}
}

func TestPendingOrderRepositoryUpdateStatusCompareAndSwap(t *testing.T) {
	repo := NewPendingOrderRepository()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if err := repo.Create(ctx, newPendingOrder("ord_1", now)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	updated, err := repo.UpdateStatus(ctx, "ord_1", domain.PendingOrderStatusPendingPayment, domain.PendingOrderStatusPaymentInitiated)
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if updated.Status != domain.PendingOrderStatusPaymentInitiated {
		t.Fatalf("unexpected status %q", updated.Status)
	}

	// A second transition from pending_payment must fail: the entry moved on.
	_, err = repo.UpdateStatus(ctx, "ord_1", domain.PendingOrderStatusPendingPayment, domain.PendingOrderStatusCanceled)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}

	_, err = repo.UpdateStatus(ctx, "ord_missing", domain.PendingOrderStatusPendingPayment, domain.PendingOrderStatusCanceled)
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPendingOrderRepositoryListStale(t *testing.T) {
	repo := NewPendingOrderRepository()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	older := newPendingOrder("ord_old", now.Add(-time.Hour))
	newer := newPendingOrder("ord_newer", now.Add(-45*time.Minute))
	fresh := newPendingOrder("ord_fresh", now.Add(-time.Minute))
	initiated := newPendingOrder("ord_done", now.Add(-2*time.Hour))
	initiated.Status = domain.PendingOrderStatusPaymentInitiated

	for _, order := range []domain.PendingOrder{older, newer, fresh, initiated} {
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	stale, err := repo.ListStale(ctx, now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStale returned error: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale orders, got %d", len(stale))
	}
	if stale[0].OrderID != "ord_old" || stale[1].OrderID != "ord_newer" {
		t.Fatalf("expected oldest-first ordering, got %v, %v", stale[0].OrderID, stale[1].OrderID)
	}

	limited, err := repo.ListStale(ctx, now.Add(-30*time.Minute), 1)
	if err != nil {
		t.Fatalf("ListStale returned error: %v", err)
	}
	if len(limited) != 1 || limited[0].OrderID != "ord_old" {
		t.Fatalf("expected limit to keep oldest entry, got %v", limited)
	}
}
