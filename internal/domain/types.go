package domain

import (
	"strings"
	"time"
)

// Contact captures the buyer details collected on the address step.
// Phone is always stored whitespace-free; see NormalizePhone.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// ShippingAddress is the delivery destination draft owned by the checkout
// session. The host receives the committed copy on submit or close.
type ShippingAddress struct {
	Street               string
	City                 string
	State                string
	Country              string
	Zipcode              string
	DeliveryInstructions string
}

// ProductSnapshot freezes the product identity the session was opened with.
type ProductSnapshot struct {
	ProductID    string
	Name         string
	SizeSelected string
}

// CheckoutSession is the ephemeral state of one purchase attempt. It is
// created when the host opens the workflow and discarded on close or on a
// successful submission. There is no persistence across restarts.
type CheckoutSession struct {
	ID        string
	UserID    string
	Product   ProductSnapshot
	Price     PriceSnapshot
	Step      Step
	Contact   Contact
	Address   ShippingAddress
	Agreement bool
	// Errors maps field names to validation messages. An entry is removed
	// the moment its field is edited, independent of re-validation.
	Errors map[string]string
	// Submitting is true only while a submission is in flight and makes
	// further submit attempts no-ops.
	Submitting bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

// OrderDraft is constructed at submit time only, never stored on the
// session. Amount is recomputed from the price snapshot when the draft is
// built, not read back from UI state.
type OrderDraft struct {
	ProductID    string
	SizeSelected string
	Quantity     int
	Contact      Contact
	Address      ShippingAddress
	Amount       int64
}

// PendingOrderStatus tracks a ledger entry through the payment handshake.
type PendingOrderStatus string

const (
	// PendingOrderStatusPendingPayment marks an order created upstream whose
	// payment session has not been confirmed yet.
	PendingOrderStatusPendingPayment PendingOrderStatus = "pending_payment"
	// PendingOrderStatusPaymentInitiated marks an order whose payment
	// session was handed to the customer.
	PendingOrderStatusPaymentInitiated PendingOrderStatus = "payment_initiated"
	// PendingOrderStatusCanceled marks an order reaped by reconciliation.
	PendingOrderStatusCanceled PendingOrderStatus = "canceled"
)

// PendingOrder is the ledger entry recorded when an order is created but its
// payment has not been initiated or confirmed. The reconciliation sweep
// cancels entries stuck in pending_payment past a timeout; there is no
// synchronous rollback of a created order.
type PendingOrder struct {
	OrderID   string
	SessionID string
	UserID    string
	ProductID string
	Amount    int64
	Status    PendingOrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizePhone strips every whitespace rune from a phone string. It runs
// before validation and before the value is stored or transmitted, so the
// same canonical form is reused everywhere.
func NormalizePhone(raw string) string {
	return strings.Join(strings.Fields(raw), "")
}

// Clone returns a deep copy of the session so repository callers never share
// the stored error map.
func (s CheckoutSession) Clone() CheckoutSession {
	out := s
	if s.Errors != nil {
		out.Errors = make(map[string]string, len(s.Errors))
		for k, v := range s.Errors {
			out.Errors[k] = v
		}
	}
	return out
}
