package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	pfirestore "github.com/earth-harvest/checkout-api/internal/platform/firestore"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

const pendingOrderCollection = "pendingOrders"

// PendingOrderRepository persists the pending-order ledger in Firestore so the
// reconciliation sweep survives process restarts.
type PendingOrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.PendingOrderRepository = (*PendingOrderRepository)(nil)

// NewPendingOrderRepository constructs a Firestore-backed pending-order repository.
func NewPendingOrderRepository(provider *pfirestore.Provider) (*PendingOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("pending order repository requires firestore provider")
	}
	return &PendingOrderRepository{provider: provider}, nil
}

type pendingOrderDocument struct {
	OrderID   string    `firestore:"orderId"`
	SessionID string    `firestore:"sessionId"`
	UserID    string    `firestore:"userId"`
	ProductID string    `firestore:"productId"`
	Amount    int64     `firestore:"amount"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodePendingOrder(order domain.PendingOrder) pendingOrderDocument {
	return pendingOrderDocument{
		OrderID:   order.OrderID,
		SessionID: order.SessionID,
		UserID:    order.UserID,
		ProductID: order.ProductID,
		Amount:    order.Amount,
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
}

func decodePendingOrder(snap *firestore.DocumentSnapshot) (domain.PendingOrder, error) {
	var doc pendingOrderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PendingOrder{}, pfirestore.WrapError("pending_orders.decode", err)
	}
	return domain.PendingOrder{
		OrderID:   doc.OrderID,
		SessionID: doc.SessionID,
		UserID:    doc.UserID,
		ProductID: doc.ProductID,
		Amount:    doc.Amount,
		Status:    domain.PendingOrderStatus(doc.Status),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// Create records a new ledger entry. Duplicate order IDs surface as conflicts.
func (r *PendingOrderRepository) Create(ctx context.Context, order domain.PendingOrder) error {
	if strings.TrimSpace(order.OrderID) == "" {
		return errors.New("pending order repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("pending_orders.create", err)
	}

	_, err = client.Collection(pendingOrderCollection).Doc(order.OrderID).Create(ctx, encodePendingOrder(order))
	if err != nil {
		return pfirestore.WrapError("pending_orders.create", err)
	}
	return nil
}

// Get returns the ledger entry for the order.
func (r *PendingOrderRepository) Get(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PendingOrder{}, pfirestore.WrapError("pending_orders.get", err)
	}

	snap, err := client.Collection(pendingOrderCollection).Doc(orderID).Get(ctx)
	if err != nil {
		return domain.PendingOrder{}, pfirestore.WrapError("pending_orders.get", err)
	}
	return decodePendingOrder(snap)
}

// UpdateStatus moves the entry from one status to another inside a
// transaction. A mismatch on the current status aborts with FailedPrecondition
// so concurrent sweeps and submits cannot both claim the same entry.
func (r *PendingOrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.PendingOrderStatus) (domain.PendingOrder, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PendingOrder{}, pfirestore.WrapError("pending_orders.update_status", err)
	}

	var updated domain.PendingOrder
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := client.Collection(pendingOrderCollection).Doc(orderID)
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		order, err := decodePendingOrder(snap)
		if err != nil {
			return err
		}
		if order.Status != from {
			return status.Errorf(codes.FailedPrecondition, "pending order %s is %s, expected %s", orderID, order.Status, from)
		}

		now := time.Now().UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}

		order.Status = to
		order.UpdatedAt = now
		updated = order
		return nil
	})
	if err != nil {
		return domain.PendingOrder{}, pfirestore.WrapError("pending_orders.update_status", err)
	}
	return updated, nil
}

// ListStale returns up to limit entries still in pending_payment whose last
// update is not after the cutoff, oldest first.
func (r *PendingOrderRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingOrder, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("pending_orders.list_stale", err)
	}

	query := client.Collection(pendingOrderCollection).
		Where("status", "==", string(domain.PendingOrderStatusPendingPayment)).
		Where("updatedAt", "<=", cutoff).
		OrderBy("updatedAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.PendingOrder
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("pending_orders.list_stale", err)
		}
		order, err := decodePendingOrder(snap)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
