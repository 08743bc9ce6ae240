package payments

import (
	"context"
	"errors"
	"time"
)

// Logger defines the logging contract for payment initiation operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ErrInitiationFailed indicates the PSP refused to open a payment session.
var ErrInitiationFailed = errors.New("payments: initiation failed")

// InitiateRequest carries everything an initiator needs to open a payment
// session for an already-created order.
type InitiateRequest struct {
	OrderID   string
	SessionID string
	UserID    string
	Amount    int64
	Currency  string
	// ProductName labels the single line item shown on the PSP page.
	ProductName string
	Quantity    int64
	Locale      string
	Metadata    map[string]string
}

// PaymentSession is the handoff returned to the customer: either a redirect
// URL to a hosted payment page or a confirmation URL in bypass mode.
type PaymentSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// Initiator opens a payment session for an order. Implementations are chosen
// by the composition root; callers never inspect which strategy is active.
type Initiator interface {
	Initiate(ctx context.Context, req InitiateRequest) (PaymentSession, error)
}
