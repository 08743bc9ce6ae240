package repositories

import (
	"context"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SessionRepository owns checkout session persistence. Sessions are ephemeral
// and keyed by session ID; Update runs the mutation under the store's lock so
// read-modify-write sequences are atomic per session.
type SessionRepository interface {
	Create(ctx context.Context, session domain.CheckoutSession) error
	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	Update(ctx context.Context, sessionID string, mutate func(*domain.CheckoutSession) error) (domain.CheckoutSession, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// PendingOrderRepository tracks orders created upstream whose payment
// handshake has not completed. Status transitions are compare-and-swap so the
// reconciliation sweep and the submit path never race each other.
type PendingOrderRepository interface {
	Create(ctx context.Context, order domain.PendingOrder) error
	Get(ctx context.Context, orderID string) (domain.PendingOrder, error)
	UpdateStatus(ctx context.Context, orderID string, from, to domain.PendingOrderStatus) (domain.PendingOrder, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingOrder, error)
}

// HealthRepository evaluates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
