package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeInitiatorConfig configures the StripeInitiator.
type StripeInitiatorConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	Backends   *stripe.Backends
	Logger     Logger
	Clock      func() time.Time
	// Sessions overrides the Stripe checkout sessions API, primarily for tests.
	Sessions stripeSessionAPI
}

// StripeInitiator opens Stripe Checkout sessions for created orders.
type StripeInitiator struct {
	sessions   stripeSessionAPI
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     Logger
}

var _ Initiator = (*StripeInitiator)(nil)

// NewStripeInitiator constructs a StripeInitiator using the given configuration.
func NewStripeInitiator(cfg StripeInitiatorConfig) (*StripeInitiator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, errors.New("stripe: success and cancel urls are required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeInitiator{
		sessions:   sessions,
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Initiate creates a Stripe Checkout session for the order. The success URL
// carries the order id so the confirmation page can resolve the purchase.
func (i *StripeInitiator) Initiate(ctx context.Context, req InitiateRequest) (PaymentSession, error) {
	if i == nil {
		return PaymentSession{}, errors.New("stripe: initiator is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return PaymentSession{}, errors.New("stripe: order id is required")
	}
	if req.Amount <= 0 {
		return PaymentSession{}, errors.New("stripe: amount must be positive")
	}

	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		name = "Order"
	}
	// Amount is the order total; Stripe multiplies unit amount by quantity.
	unitAmount := req.Amount / quantity

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(appendOrderID(i.successURL, req.OrderID)),
		CancelURL:  stripe.String(appendOrderID(i.cancelURL, req.OrderID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(quantity),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(unitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.OrderID)

	if req.Locale != "" {
		params.Locale = stripe.String(strings.ReplaceAll(strings.ToLower(req.Locale), "_", "-"))
	}

	metadata := map[string]string{
		"orderId": req.OrderID,
	}
	if req.SessionID != "" {
		metadata["checkoutSessionId"] = req.SessionID
	}
	if req.UserID != "" {
		metadata["userId"] = req.UserID
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	params.Metadata = metadata
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: metadata,
	}

	session, err := i.sessions.New(params)
	if err != nil {
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}
	if session.URL == "" {
		return PaymentSession{}, fmt.Errorf("%w: session %s has no redirect url", ErrInitiationFailed, session.ID)
	}

	i.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"currency":  strings.ToLower(req.Currency),
	})

	expiresAt := i.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return PaymentSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

func appendOrderID(rawURL, orderID string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("orderId", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}
