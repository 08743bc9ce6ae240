package payments

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// TestInitiator bypasses the PSP entirely and sends the customer straight to
// a confirmation URL. Used in development and test environments only; the
// composition root decides which initiator is wired in.
type TestInitiator struct {
	confirmationURL string
	clock           func() time.Time
	logger          Logger
}

var _ Initiator = (*TestInitiator)(nil)

// NewTestInitiator constructs a TestInitiator pointing at the given confirmation URL.
func NewTestInitiator(confirmationURL string, logger Logger, clock func() time.Time) (*TestInitiator, error) {
	confirmationURL = strings.TrimSpace(confirmationURL)
	if confirmationURL == "" {
		return nil, errors.New("test initiator: confirmation url is required")
	}
	if _, err := url.Parse(confirmationURL); err != nil {
		return nil, errors.New("test initiator: invalid confirmation url")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TestInitiator{
		confirmationURL: confirmationURL,
		clock:           clock,
		logger:          logger,
	}, nil
}

// Initiate returns a synthetic payment session that redirects to the
// confirmation URL with the order id attached.
func (i *TestInitiator) Initiate(ctx context.Context, req InitiateRequest) (PaymentSession, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return PaymentSession{}, errors.New("test initiator: order id is required")
	}

	i.logger(ctx, "payments.test.session.created", map[string]any{
		"orderId":   req.OrderID,
		"sessionId": req.SessionID,
	})

	return PaymentSession{
		ID:          "test_" + req.OrderID,
		Provider:    "test",
		RedirectURL: appendOrderID(i.confirmationURL, req.OrderID),
		ExpiresAt:   i.clock().UTC().Add(30 * time.Minute),
	}, nil
}
