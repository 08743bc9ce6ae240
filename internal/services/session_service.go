package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

const (
	sessionIDPrefix   = "cs_"
	defaultSessionTTL = 45 * time.Minute
)

var (
	// ErrSessionInvalidInput indicates the caller supplied invalid parameters.
	ErrSessionInvalidInput = errors.New("checkout session: invalid input")
	// ErrSessionNotFound indicates the session does not exist, expired, or belongs to another user.
	ErrSessionNotFound = errors.New("checkout session: not found")
	// ErrSessionTransition indicates the requested step change is not allowed from the current step.
	ErrSessionTransition = errors.New("checkout session: invalid transition")
	// ErrSessionUnavailable indicates the session store is unavailable.
	ErrSessionUnavailable = errors.New("checkout session: unavailable")
)

// Free-text delivery instructions are stripped of any markup before storage.
var instructionsPolicy = bluemonday.StrictPolicy()

// SessionServiceDeps wires the dependencies required by the session service.
type SessionServiceDeps struct {
	Sessions repositories.SessionRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	IDGen    func() string
	TTL      time.Duration
}

type sessionService struct {
	sessions repositories.SessionRepository
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	newID    func() string
	ttl      time.Duration
}

// NewSessionService constructs a SessionService validating required dependencies.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session service: session repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return sessionIDPrefix + ulid.Make().String() }
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	return &sessionService{
		sessions: deps.Sessions,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
		ttl:    ttl,
	}, nil
}

// Create opens a session at the summary step with the host's snapshot.
func (s *sessionService) Create(ctx context.Context, cmd CreateSessionCommand) (domain.CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}
	if cmd.UnitPrice <= 0 {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}
	quantity := cmd.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	now := s.now()
	session := domain.CheckoutSession{
		ID:     s.newID(),
		UserID: userID,
		Product: domain.ProductSnapshot{
			ProductID:    productID,
			Name:         strings.TrimSpace(cmd.ProductName),
			SizeSelected: strings.TrimSpace(cmd.SizeSelected),
		},
		Price: domain.PriceSnapshot{
			UnitPrice:    cmd.UnitPrice,
			UnitOldPrice: cmd.UnitOldPrice,
			Quantity:     quantity,
		},
		Step:      domain.StepSummary,
		Errors:    map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.CheckoutSession{}, s.translateRepoError(err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"sessionId": session.ID,
		"productId": productID,
		"quantity":  quantity,
	})
	return session, nil
}

// Get returns the caller's session, treating expiry as absence.
func (s *sessionService) Get(ctx context.Context, userID, sessionID string) (domain.CheckoutSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, s.translateRepoError(err)
	}
	if session.UserID != userID {
		return domain.CheckoutSession{}, ErrSessionNotFound
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(s.now()) {
		_ = s.sessions.Delete(ctx, sessionID)
		return domain.CheckoutSession{}, ErrSessionNotFound
	}
	return session, nil
}

// Advance moves the session forward one step. The address step is gated by
// validation: on failure the step stays put and the error map is replaced
// with the complete validation outcome.
func (s *sessionService) Advance(ctx context.Context, userID, sessionID string) (domain.CheckoutSession, error) {
	updated, err := s.sessions.Update(ctx, sessionID, func(session *domain.CheckoutSession) error {
		if session.UserID != userID {
			return ErrSessionNotFound
		}

		var next domain.Step
		switch session.Step {
		case domain.StepSummary:
			next = domain.StepAddress
		case domain.StepAddress:
			validation := ValidateStep(domain.StepAddress, *session)
			if !validation.Valid {
				session.Errors = validation.Errors
				session.UpdatedAt = s.now()
				return nil
			}
			session.Contact.Phone = domain.NormalizePhone(session.Contact.Phone)
			next = domain.StepPayment
		default:
			return ErrSessionTransition
		}

		if !session.Step.CanTransition(next) {
			return ErrSessionTransition
		}
		session.Step = next
		session.Errors = map[string]string{}
		session.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.CheckoutSession{}, s.translateRepoError(err)
	}
	return updated, nil
}

// Back moves the session one step backwards without any validation gate.
func (s *sessionService) Back(ctx context.Context, userID, sessionID string) (domain.CheckoutSession, error) {
	updated, err := s.sessions.Update(ctx, sessionID, func(session *domain.CheckoutSession) error {
		if session.UserID != userID {
			return ErrSessionNotFound
		}

		prev, ok := session.Step.Prev()
		if !ok || !session.Step.CanTransition(prev) {
			return ErrSessionTransition
		}
		session.Step = prev
		session.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.CheckoutSession{}, s.translateRepoError(err)
	}
	return updated, nil
}

// UpdateFields applies the edits, clearing each touched field's error entry
// immediately, independent of re-validation.
func (s *sessionService) UpdateFields(ctx context.Context, cmd UpdateFieldsCommand) (domain.CheckoutSession, error) {
	updated, err := s.sessions.Update(ctx, cmd.SessionID, func(session *domain.CheckoutSession) error {
		if session.UserID != cmd.UserID {
			return ErrSessionNotFound
		}
		if session.Step.Terminal() {
			return ErrSessionTransition
		}
		if session.Errors == nil {
			session.Errors = map[string]string{}
		}

		touch := func(field string, target *string, value *string) {
			if value == nil {
				return
			}
			*target = *value
			delete(session.Errors, field)
		}

		touch(FieldName, &session.Contact.Name, cmd.Name)
		if cmd.Phone != nil {
			session.Contact.Phone = domain.NormalizePhone(*cmd.Phone)
			delete(session.Errors, FieldPhone)
		}
		touch(FieldEmail, &session.Contact.Email, cmd.Email)
		touch(FieldStreet, &session.Address.Street, cmd.Street)
		touch(FieldCity, &session.Address.City, cmd.City)
		touch(FieldState, &session.Address.State, cmd.State)
		touch(FieldCountry, &session.Address.Country, cmd.Country)
		if cmd.Zipcode != nil {
			session.Address.Zipcode = strings.TrimSpace(*cmd.Zipcode)
			delete(session.Errors, FieldZipcode)
		}
		if cmd.DeliveryInstructions != nil {
			session.Address.DeliveryInstructions = strings.TrimSpace(instructionsPolicy.Sanitize(*cmd.DeliveryInstructions))
			delete(session.Errors, "deliveryInstructions")
		}
		if cmd.Agreement != nil {
			session.Agreement = *cmd.Agreement
			delete(session.Errors, FieldTerms)
		}

		session.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.CheckoutSession{}, s.translateRepoError(err)
	}
	return updated, nil
}

// Close discards the session and returns the committed draft so the host
// keeps the final values.
func (s *sessionService) Close(ctx context.Context, userID, sessionID string) (CommittedCheckout, error) {
	closed, err := s.sessions.Update(ctx, sessionID, func(session *domain.CheckoutSession) error {
		if session.UserID != userID {
			return ErrSessionNotFound
		}
		if !session.Step.CanTransition(domain.StepClosed) {
			return ErrSessionTransition
		}
		session.Step = domain.StepClosed
		session.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return CommittedCheckout{}, s.translateRepoError(err)
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return CommittedCheckout{}, s.translateRepoError(err)
	}

	s.logger(ctx, "checkout.session.closed", map[string]any{
		"sessionId": sessionID,
	})
	return CommittedCheckout{
		Contact: closed.Contact,
		Address: closed.Address,
	}, nil
}

// PurgeExpired removes every session past its expiry.
func (s *sessionService) PurgeExpired(ctx context.Context) (int, error) {
	removed, err := s.sessions.DeleteExpired(ctx, s.now(), 0)
	if err != nil {
		return 0, s.translateRepoError(err)
	}
	if removed > 0 {
		s.logger(ctx, "checkout.session.purged", map[string]any{
			"count": removed,
		})
	}
	return removed, nil
}

func (s *sessionService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionTransition) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrSessionNotFound
		case repoErr.IsUnavailable():
			return ErrSessionUnavailable
		}
	}
	return err
}
