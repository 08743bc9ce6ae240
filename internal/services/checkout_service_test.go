package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/earth-harvest/checkout-api/internal/clients/orders"
	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/payments"
	"github.com/earth-harvest/checkout-api/internal/repositories/memory"
)

type stubOrderCreator struct {
	createFn func(ctx context.Context, draft domain.OrderDraft) (string, error)
	calls    atomic.Int64
}

func (s *stubOrderCreator) CreateOrder(ctx context.Context, draft domain.OrderDraft) (string, error) {
	s.calls.Add(1)
	if s.createFn != nil {
		return s.createFn(ctx, draft)
	}
	return "order-1", nil
}

type stubInitiator struct {
	initiateFn func(ctx context.Context, req payments.InitiateRequest) (payments.PaymentSession, error)
}

func (s *stubInitiator) Initiate(ctx context.Context, req payments.InitiateRequest) (payments.PaymentSession, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, req)
	}
	return payments.PaymentSession{
		ID:          "ps_1",
		Provider:    "stripe",
		RedirectURL: "https://pay.example.com/ps_1?orderId=" + req.OrderID,
	}, nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []CheckoutEvent
}

func (s *stubPublisher) PublishCheckoutEvent(_ context.Context, event CheckoutEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return "msg-1", nil
}

func (s *stubPublisher) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type checkoutFixture struct {
	svc           CheckoutService
	sessions      *memory.SessionRepository
	pendingOrders *memory.PendingOrderRepository
	orderCreator  *stubOrderCreator
	publisher     *stubPublisher
}

func newCheckoutFixture(t *testing.T, mutate func(*CheckoutServiceDeps)) *checkoutFixture {
	t.Helper()

	f := &checkoutFixture{
		sessions:      memory.NewSessionRepository(),
		pendingOrders: memory.NewPendingOrderRepository(),
		orderCreator:  &stubOrderCreator{},
		publisher:     &stubPublisher{},
	}
	deps := CheckoutServiceDeps{
		Sessions:      f.sessions,
		PendingOrders: f.pendingOrders,
		Orders:        f.orderCreator,
		Initiator:     &stubInitiator{},
		Publisher:     f.publisher,
		Currency:      "AED",
		Clock:         func() time.Time { return time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&deps)
	}

	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService returned error: %v", err)
	}
	f.svc = svc
	return f
}

func seedPaymentSession(t *testing.T, repo *memory.SessionRepository, agreement bool) domain.CheckoutSession {
	t.Helper()

	session := domain.CheckoutSession{
		ID:     "cs_submit",
		UserID: "user-1",
		Product: domain.ProductSnapshot{
			ProductID:    "prod-1",
			Name:         "Adult Chicken Recipe",
			SizeSelected: "10kg",
		},
		Price: domain.PriceSnapshot{
			UnitPrice:    8999,
			UnitOldPrice: 11999,
			Quantity:     2,
		},
		Step: domain.StepPayment,
		Contact: domain.Contact{
			Name:  "Sarah Miller",
			Phone: "+971501234567",
			Email: "sarah@example.com",
		},
		Address: domain.ShippingAddress{
			Street:  "14 Palm Street, Apt 3",
			City:    "Dubai",
			State:   "Dubai",
			Country: "AE",
			Zipcode: "12345",
		},
		Agreement: agreement,
		Errors:    map[string]string{},
		ExpiresAt: time.Date(2026, time.March, 1, 11, 0, 0, 0, time.UTC),
	}
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("seeding session failed: %v", err)
	}
	return session
}

func TestCheckoutServiceSubmitSuccess(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	seedPaymentSession(t, f.sessions, true)

	var draft domain.OrderDraft
	f.orderCreator.createFn = func(_ context.Context, d domain.OrderDraft) (string, error) {
		draft = d
		return "order-1", nil
	}

	result, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: "cs_submit",
		Locale:    "en-US",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if draft.Amount != 17998 {
		t.Fatalf("expected recomputed amount 17998, got %d", draft.Amount)
	}
	if draft.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", draft.Quantity)
	}
	if result.OrderID != "order-1" {
		t.Fatalf("unexpected order id %q", result.OrderID)
	}
	if result.RedirectURL == "" {
		t.Fatal("expected a redirect URL")
	}
	if result.Committed.Contact.Name != "Sarah Miller" {
		t.Fatalf("unexpected committed name %q", result.Committed.Contact.Name)
	}

	ledger, err := f.pendingOrders.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("ledger lookup failed: %v", err)
	}
	if ledger.Status != domain.PendingOrderStatusPaymentInitiated {
		t.Fatalf("expected payment_initiated, got %q", ledger.Status)
	}

	if f.sessions.Len() != 0 {
		t.Fatalf("expected session deleted after submit, %d remain", f.sessions.Len())
	}

	types := f.publisher.types()
	if len(types) != 2 || types[0] != EventOrderCreated || types[1] != EventPaymentInitiated {
		t.Fatalf("unexpected event sequence %v", types)
	}
}

func TestCheckoutServiceSubmitDoubleSubmitCreatesOneOrder(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	seedPaymentSession(t, f.sessions, true)

	f.orderCreator.createFn = func(_ context.Context, _ domain.OrderDraft) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "order-1", nil
	}

	const attempts = 8
	var wg sync.WaitGroup
	var successes, inFlight atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), SubmitCommand{
				UserID:    "user-1",
				SessionID: "cs_submit",
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrCheckoutSubmitInFlight), errors.Is(err, ErrSessionNotFound):
				inFlight.Add(1)
			default:
				t.Errorf("unexpected submit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("expected exactly one successful submit, got %d", got)
	}
	if got := f.orderCreator.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one order creation, got %d", got)
	}
	if got := inFlight.Load(); got != attempts-1 {
		t.Fatalf("expected %d no-op attempts, got %d", attempts-1, got)
	}
}

func TestCheckoutServiceSubmitOrderFailureSurfacesMessage(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	seedPaymentSession(t, f.sessions, true)

	f.orderCreator.createFn = func(_ context.Context, _ domain.OrderDraft) (string, error) {
		return "", &orders.APIError{StatusCode: 422, Message: "Product is out of stock"}
	}

	_, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: "cs_submit",
	})
	if !errors.Is(err, ErrCheckoutOrderFailed) {
		t.Fatalf("expected ErrCheckoutOrderFailed, got %v", err)
	}

	var collab *CollaboratorError
	if !errors.As(err, &collab) {
		t.Fatalf("expected CollaboratorError, got %T", err)
	}
	if collab.Message != "Product is out of stock" {
		t.Fatalf("unexpected collaborator message %q", collab.Message)
	}

	session, getErr := f.sessions.Get(context.Background(), "cs_submit")
	if getErr != nil {
		t.Fatalf("session lookup failed: %v", getErr)
	}
	if session.Submitting {
		t.Fatal("expected in-flight flag released after failure")
	}
	if session.Step != domain.StepPayment {
		t.Fatalf("expected session to stay on payment, got %q", session.Step)
	}

	if _, ledgerErr := f.pendingOrders.Get(context.Background(), "order-1"); ledgerErr == nil {
		t.Fatal("expected no ledger entry when order creation fails")
	}
}

func TestCheckoutServiceSubmitDraftRejectionIsInvalidInput(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	seedPaymentSession(t, f.sessions, true)

	f.orderCreator.createFn = func(_ context.Context, _ domain.OrderDraft) (string, error) {
		return "", &orders.DraftError{Field: "zipcode", Reason: `"abc" is not numeric`}
	}

	_, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: "cs_submit",
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
	if errors.Is(err, ErrCheckoutOrderFailed) {
		t.Fatal("a client-side draft rejection must not read as an upstream order failure")
	}

	session, getErr := f.sessions.Get(context.Background(), "cs_submit")
	if getErr != nil {
		t.Fatalf("session lookup failed: %v", getErr)
	}
	if session.Submitting {
		t.Fatal("expected in-flight flag released after rejection")
	}
	if session.Step != domain.StepPayment {
		t.Fatalf("expected session to stay on payment, got %q", session.Step)
	}
	if session.Errors[FieldZipcode] != msgZipcode {
		t.Fatalf("expected zipcode field error, got %v", session.Errors)
	}

	if types := f.publisher.types(); len(types) != 0 {
		t.Fatalf("expected no events, got %v", types)
	}
}

func TestCheckoutServiceSubmitPaymentFailureKeepsLedgerEntry(t *testing.T) {
	f := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Initiator = &stubInitiator{
			initiateFn: func(_ context.Context, _ payments.InitiateRequest) (payments.PaymentSession, error) {
				return payments.PaymentSession{}, payments.ErrInitiationFailed
			},
		}
	})
	seedPaymentSession(t, f.sessions, true)

	_, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: "cs_submit",
	})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}

	// The order was created upstream: the ledger entry stays pending for the
	// reconciliation sweep.
	ledger, ledgerErr := f.pendingOrders.Get(context.Background(), "order-1")
	if ledgerErr != nil {
		t.Fatalf("ledger lookup failed: %v", ledgerErr)
	}
	if ledger.Status != domain.PendingOrderStatusPendingPayment {
		t.Fatalf("expected pending_payment, got %q", ledger.Status)
	}

	session, getErr := f.sessions.Get(context.Background(), "cs_submit")
	if getErr != nil {
		t.Fatalf("session lookup failed: %v", getErr)
	}
	if session.Submitting {
		t.Fatal("expected in-flight flag released so the customer can retry")
	}

	types := f.publisher.types()
	if len(types) != 2 || types[0] != EventOrderCreated || types[1] != EventPaymentFailed {
		t.Fatalf("unexpected event sequence %v", types)
	}
}

func TestCheckoutServiceSubmitRejectsMissingAgreement(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	seedPaymentSession(t, f.sessions, false)

	_, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: "cs_submit",
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
	if got := f.orderCreator.calls.Load(); got != 0 {
		t.Fatalf("expected no order creation, got %d calls", got)
	}

	session, getErr := f.sessions.Get(context.Background(), "cs_submit")
	if getErr != nil {
		t.Fatalf("session lookup failed: %v", getErr)
	}
	if got := session.Errors[FieldTerms]; got != "Please accept the terms and conditions" {
		t.Fatalf("expected terms error persisted, got %q", got)
	}
}

func TestCheckoutServiceSubmitRejectsWrongStep(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	session := seedPaymentSession(t, f.sessions, true)
	if _, err := f.sessions.Update(context.Background(), session.ID, func(s *domain.CheckoutSession) error {
		s.Step = domain.StepAddress
		return nil
	}); err != nil {
		t.Fatalf("seeding step failed: %v", err)
	}

	_, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: session.ID,
	})
	if !errors.Is(err, ErrCheckoutNotReady) {
		t.Fatalf("expected ErrCheckoutNotReady, got %v", err)
	}
}

func TestCheckoutServiceSubmitTestBypass(t *testing.T) {
	f := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.TestInitiator = &stubInitiator{
			initiateFn: func(_ context.Context, req payments.InitiateRequest) (payments.PaymentSession, error) {
				return payments.PaymentSession{
					ID:          "test_" + req.OrderID,
					Provider:    "test",
					RedirectURL: "https://shop.example.com/confirm?orderId=" + req.OrderID,
				}, nil
			},
		}
	})
	seedPaymentSession(t, f.sessions, true)

	result, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: "cs_submit",
		UseTest:   true,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Provider != "test" {
		t.Fatalf("expected test provider, got %q", result.Provider)
	}
}

func TestCheckoutServiceSubmitTestBypassDisabled(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	seedPaymentSession(t, f.sessions, true)

	_, err := f.svc.Submit(context.Background(), SubmitCommand{
		UserID:    "user-1",
		SessionID: "cs_submit",
		UseTest:   true,
	})
	if !errors.Is(err, ErrCheckoutTestDisabled) {
		t.Fatalf("expected ErrCheckoutTestDisabled, got %v", err)
	}
	if got := f.orderCreator.calls.Load(); got != 0 {
		t.Fatalf("expected no order creation, got %d calls", got)
	}
}
