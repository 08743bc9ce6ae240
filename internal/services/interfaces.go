package services

import (
	"context"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
)

// CreateSessionCommand opens a checkout session with the host's product and
// price snapshot. Quantity defaults to 1.
type CreateSessionCommand struct {
	UserID       string
	ProductID    string
	ProductName  string
	SizeSelected string
	UnitPrice    int64
	UnitOldPrice int64
	Quantity     int
}

// UpdateFieldsCommand carries the fields being edited on a session. Nil
// pointers mean "not touched"; touched fields have their error entries
// cleared immediately, independent of re-validation.
type UpdateFieldsCommand struct {
	UserID    string
	SessionID string

	Name                 *string
	Phone                *string
	Email                *string
	Street               *string
	City                 *string
	State                *string
	Country              *string
	Zipcode              *string
	DeliveryInstructions *string
	Agreement            *bool
}

// CommittedCheckout is the finalized contact and address returned to the
// host when a session submits or closes, so the host keeps the normalized
// values after the workflow is gone.
type CommittedCheckout struct {
	Contact domain.Contact
	Address domain.ShippingAddress
}

// SessionService owns the step state machine and the session's field drafts.
type SessionService interface {
	Create(ctx context.Context, cmd CreateSessionCommand) (domain.CheckoutSession, error)
	Get(ctx context.Context, userID, sessionID string) (domain.CheckoutSession, error)
	Advance(ctx context.Context, userID, sessionID string) (domain.CheckoutSession, error)
	Back(ctx context.Context, userID, sessionID string) (domain.CheckoutSession, error)
	UpdateFields(ctx context.Context, cmd UpdateFieldsCommand) (domain.CheckoutSession, error)
	Close(ctx context.Context, userID, sessionID string) (CommittedCheckout, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// SubmitCommand triggers the order-creation → payment-initiation sequence.
type SubmitCommand struct {
	UserID    string
	SessionID string
	Locale    string
	// UseTest selects the development-only bypass initiator. It is an
	// explicit, distinct action, never substituted for the real path.
	UseTest bool
}

// SubmitResult reports a successful submission: where to send the customer
// and the committed checkout data.
type SubmitResult struct {
	OrderID     string
	Provider    string
	RedirectURL string
	Committed   CommittedCheckout
}

// CheckoutService sequences the two collaborator calls at submit time.
type CheckoutService interface {
	Submit(ctx context.Context, cmd SubmitCommand) (SubmitResult, error)
}

// OrderCreator creates orders on the upstream order service.
type OrderCreator interface {
	CreateOrder(ctx context.Context, draft domain.OrderDraft) (string, error)
}

// OrderCanceler cancels stale orders; used only by reconciliation.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, orderID string) error
}

// Checkout event types published to the events topic.
const (
	EventOrderCreated     = "checkout.order.created"
	EventPaymentInitiated = "checkout.payment.initiated"
	EventPaymentFailed    = "checkout.payment.failed"
	EventOrderReconciled  = "checkout.order.reconciled"
)

// CheckoutEvent is the message shape published for checkout lifecycle events.
type CheckoutEvent struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"sessionId,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher pushes checkout events to interested consumers. A nil
// publisher disables events.
type EventPublisher interface {
	PublishCheckoutEvent(ctx context.Context, event CheckoutEvent) (string, error)
}

// SweepStats summarises one reconciliation pass.
type SweepStats struct {
	Scanned  int
	Canceled int
	Skipped  int
	Failed   int
}

// ReconciliationService cancels orders stuck in pending_payment past the timeout.
type ReconciliationService interface {
	Sweep(ctx context.Context) (SweepStats, error)
}

// SystemService aggregates dependency health for readiness reporting.
type SystemService interface {
	Readiness(ctx context.Context) (domain.HealthReport, error)
}
