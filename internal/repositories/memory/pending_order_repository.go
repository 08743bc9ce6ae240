package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

// PendingOrderRepository keeps the pending-order ledger in process memory.
// Suitable for local development and tests; production deployments use the
// Firestore-backed implementation.
type PendingOrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.PendingOrder
}

var _ repositories.PendingOrderRepository = (*PendingOrderRepository)(nil)

// NewPendingOrderRepository constructs an empty in-memory ledger.
func NewPendingOrderRepository() *PendingOrderRepository {
	return &PendingOrderRepository{
		orders: make(map[string]domain.PendingOrder),
	}
}

// Create records a new ledger entry, rejecting duplicate order IDs.
func (r *PendingOrderRepository) Create(ctx context.Context, order domain.PendingOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order.OrderID == "" {
		return errors.New("pending order repository: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.OrderID]; exists {
		return conflictError("pending order create", order.OrderID)
	}
	r.orders[order.OrderID] = order
	return nil
}

// Get returns the ledger entry for the order.
func (r *PendingOrderRepository) Get(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return domain.PendingOrder{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.PendingOrder{}, notFoundError("pending order get", orderID)
	}
	return order, nil
}

// UpdateStatus moves the entry from one status to another. The transition is
// compare-and-swap: a mismatch on the current status returns a conflict so
// concurrent sweeps and submits cannot both claim the same entry.
func (r *PendingOrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.PendingOrderStatus) (domain.PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return domain.PendingOrder{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.PendingOrder{}, notFoundError("pending order update", orderID)
	}
	if order.Status != from {
		return domain.PendingOrder{}, conflictError("pending order update", orderID)
	}

	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	r.orders[orderID] = order
	return order, nil
}

// ListStale returns up to limit entries still in pending_payment whose last
// update is not after the cutoff, oldest first.
func (r *PendingOrderRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stale := make([]domain.PendingOrder, 0)
	for _, order := range r.orders {
		if order.Status != domain.PendingOrderStatusPendingPayment {
			continue
		}
		if order.UpdatedAt.After(cutoff) {
			continue
		}
		stale = append(stale, order)
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
