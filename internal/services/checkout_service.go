package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/payments"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the submit command or the session's
	// draft is not submittable.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutNotReady indicates the session is not on the payment step.
	ErrCheckoutNotReady = errors.New("checkout: session not ready to submit")
	// ErrCheckoutSubmitInFlight indicates another submission is already
	// running for the session; the duplicate attempt did nothing.
	ErrCheckoutSubmitInFlight = errors.New("checkout: submission already in flight")
	// ErrCheckoutOrderFailed indicates the order service rejected or failed
	// the creation call; nothing was created upstream.
	ErrCheckoutOrderFailed = errors.New("checkout: order creation failed")
	// ErrCheckoutPaymentFailed indicates the order exists upstream but the
	// payment session could not be opened. The session stays on the payment
	// step so the customer can retry.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment initiation failed")
	// ErrCheckoutTestDisabled indicates the bypass initiator was requested
	// but is not configured in this environment.
	ErrCheckoutTestDisabled = errors.New("checkout: test submission disabled")
)

// CollaboratorError carries the customer-safe message an upstream
// collaborator returned alongside the sentinel it wraps.
type CollaboratorError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Message)
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped sentinel for errors.Is.
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

type upstreamMessenger interface {
	UpstreamMessage() string
}

// draftRejection matches client-side draft errors raised before any request
// leaves the process. They are the caller's problem, not a collaborator
// failure.
type draftRejection interface {
	DraftField() string
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Sessions      repositories.SessionRepository
	PendingOrders repositories.PendingOrderRepository
	Orders        OrderCreator
	Initiator     payments.Initiator
	// TestInitiator serves the explicit development bypass. Leave nil to
	// reject bypass submissions.
	TestInitiator payments.Initiator
	Publisher     EventPublisher
	Currency      string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	sessions      repositories.SessionRepository
	pendingOrders repositories.PendingOrderRepository
	orders        OrderCreator
	initiator     payments.Initiator
	testInitiator payments.Initiator
	publisher     EventPublisher
	currency      string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: session repository is required")
	}
	if deps.PendingOrders == nil {
		return nil, errors.New("checkout service: pending order repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order creator is required")
	}
	if deps.Initiator == nil {
		return nil, errors.New("checkout service: payment initiator is required")
	}
	if deps.Currency == "" {
		return nil, errors.New("checkout service: currency is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		sessions:      deps.Sessions,
		pendingOrders: deps.PendingOrders,
		orders:        deps.Orders,
		initiator:     deps.Initiator,
		testInitiator: deps.TestInitiator,
		publisher:     deps.Publisher,
		currency:      deps.Currency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Submit runs the order-creation → payment-initiation sequence for a session
// sitting on the payment step. The in-flight flag is claimed atomically so a
// concurrent duplicate submit does nothing.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCommand) (SubmitResult, error) {
	if cmd.UserID == "" || cmd.SessionID == "" {
		return SubmitResult{}, ErrCheckoutInvalidInput
	}

	initiator := s.initiator
	if cmd.UseTest {
		if s.testInitiator == nil {
			return SubmitResult{}, ErrCheckoutTestDisabled
		}
		initiator = s.testInitiator
	}

	session, err := s.claim(ctx, cmd)
	if err != nil {
		return SubmitResult{}, err
	}

	// Amount is recomputed from the price snapshot, never taken from the
	// caller.
	draft := domain.OrderDraft{
		ProductID:    session.Product.ProductID,
		SizeSelected: session.Product.SizeSelected,
		Quantity:     session.Price.Quantity,
		Contact:      session.Contact,
		Address:      session.Address,
		Amount:       session.Price.Amount(),
	}

	orderID, err := s.orders.CreateOrder(ctx, draft)
	if err != nil {
		var rejected draftRejection
		if errors.As(err, &rejected) {
			s.rejectDraft(ctx, cmd.SessionID, rejected.DraftField())
			return SubmitResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		s.release(ctx, cmd.SessionID)
		s.logger(ctx, "checkout.order.create_failed", map[string]any{
			"sessionId": cmd.SessionID,
			"error":     err.Error(),
		})
		return SubmitResult{}, wrapCollaborator(ErrCheckoutOrderFailed, err)
	}

	now := s.now()
	if err := s.pendingOrders.Create(ctx, domain.PendingOrder{
		OrderID:   orderID,
		SessionID: session.ID,
		UserID:    session.UserID,
		ProductID: session.Product.ProductID,
		Amount:    draft.Amount,
		Status:    domain.PendingOrderStatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		// The order exists upstream either way; the sweep cannot see an
		// unrecorded entry, so log loudly and carry on.
		s.logger(ctx, "checkout.ledger.record_failed", map[string]any{
			"sessionId": session.ID,
			"orderId":   orderID,
			"error":     err.Error(),
		})
	}

	s.publish(ctx, CheckoutEvent{
		Type:       EventOrderCreated,
		SessionID:  session.ID,
		OrderID:    orderID,
		UserID:     session.UserID,
		Amount:     draft.Amount,
		Currency:   s.currency,
		OccurredAt: now,
	})

	paymentSession, err := initiator.Initiate(ctx, payments.InitiateRequest{
		OrderID:     orderID,
		SessionID:   session.ID,
		UserID:      session.UserID,
		Amount:      draft.Amount,
		Currency:    s.currency,
		ProductName: session.Product.Name,
		Quantity:    int64(session.Price.Quantity),
		Locale:      cmd.Locale,
	})
	if err != nil {
		// The pending ledger entry stays behind for the reconciliation
		// sweep; there is no synchronous rollback of the created order.
		s.release(ctx, cmd.SessionID)
		s.publish(ctx, CheckoutEvent{
			Type:       EventPaymentFailed,
			SessionID:  session.ID,
			OrderID:    orderID,
			UserID:     session.UserID,
			Amount:     draft.Amount,
			Currency:   s.currency,
			Reason:     err.Error(),
			OccurredAt: s.now(),
		})
		s.logger(ctx, "checkout.payment.initiate_failed", map[string]any{
			"sessionId": session.ID,
			"orderId":   orderID,
			"error":     err.Error(),
		})
		return SubmitResult{}, wrapCollaborator(ErrCheckoutPaymentFailed, err)
	}

	if _, err := s.pendingOrders.UpdateStatus(ctx, orderID,
		domain.PendingOrderStatusPendingPayment, domain.PendingOrderStatusPaymentInitiated); err != nil {
		s.logger(ctx, "checkout.ledger.mark_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}

	s.publish(ctx, CheckoutEvent{
		Type:       EventPaymentInitiated,
		SessionID:  session.ID,
		OrderID:    orderID,
		UserID:     session.UserID,
		Amount:     draft.Amount,
		Currency:   s.currency,
		OccurredAt: s.now(),
	})

	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		s.logger(ctx, "checkout.session.delete_failed", map[string]any{
			"sessionId": session.ID,
			"error":     err.Error(),
		})
	}

	s.logger(ctx, "checkout.submitted", map[string]any{
		"sessionId": session.ID,
		"orderId":   orderID,
		"provider":  paymentSession.Provider,
		"amount":    draft.Amount,
	})

	return SubmitResult{
		OrderID:     orderID,
		Provider:    paymentSession.Provider,
		RedirectURL: paymentSession.RedirectURL,
		Committed: CommittedCheckout{
			Contact: session.Contact,
			Address: session.Address,
		},
	}, nil
}

// claim atomically marks the session as submitting. It runs inside the
// repository's update lock so two concurrent submits cannot both pass.
func (s *checkoutService) claim(ctx context.Context, cmd SubmitCommand) (domain.CheckoutSession, error) {
	var claimErr error
	session, err := s.sessions.Update(ctx, cmd.SessionID, func(session *domain.CheckoutSession) error {
		if session.UserID != cmd.UserID {
			return ErrSessionNotFound
		}
		if session.Submitting {
			claimErr = ErrCheckoutSubmitInFlight
			return nil
		}
		if session.Step != domain.StepPayment {
			claimErr = ErrCheckoutNotReady
			return nil
		}
		validation := ValidateStep(domain.StepPayment, *session)
		if !validation.Valid {
			// Persist the validation outcome so the caller can render it.
			session.Errors = validation.Errors
			session.UpdatedAt = s.now()
			claimErr = ErrCheckoutInvalidInput
			return nil
		}
		session.Contact.Phone = domain.NormalizePhone(session.Contact.Phone)
		session.Submitting = true
		session.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.CheckoutSession{}, ErrSessionNotFound
		}
		return domain.CheckoutSession{}, err
	}
	if claimErr != nil {
		return domain.CheckoutSession{}, claimErr
	}
	return session, nil
}

// release clears the in-flight flag after a failed submission so the
// customer can retry; the retry always creates a new order.
// rejectDraft clears the in-flight flag and pins the offending field on the
// session so the customer can correct it and resubmit.
func (s *checkoutService) rejectDraft(ctx context.Context, sessionID, field string) {
	if _, err := s.sessions.Update(ctx, sessionID, func(session *domain.CheckoutSession) error {
		session.Submitting = false
		if field == FieldZipcode {
			if session.Errors == nil {
				session.Errors = map[string]string{}
			}
			session.Errors[FieldZipcode] = msgZipcode
		}
		session.UpdatedAt = s.now()
		return nil
	}); err != nil {
		s.logger(ctx, "checkout.session.release_failed", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) release(ctx context.Context, sessionID string) {
	if _, err := s.sessions.Update(ctx, sessionID, func(session *domain.CheckoutSession) error {
		session.Submitting = false
		session.UpdatedAt = s.now()
		return nil
	}); err != nil {
		s.logger(ctx, "checkout.session.release_failed", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) publish(ctx context.Context, event CheckoutEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishCheckoutEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func wrapCollaborator(sentinel, cause error) error {
	var messenger upstreamMessenger
	if errors.As(cause, &messenger) && messenger.UpstreamMessage() != "" {
		return &CollaboratorError{Message: messenger.UpstreamMessage(), Err: fmt.Errorf("%w: %w", sentinel, cause)}
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
