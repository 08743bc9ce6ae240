package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

// SessionRepository stores checkout sessions in process memory. Sessions are
// ephemeral by design, so the store never outlives the process.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs an empty in-memory session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]domain.CheckoutSession),
	}
}

// Create stores a new session, rejecting duplicate IDs.
func (r *SessionRepository) Create(ctx context.Context, session domain.CheckoutSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.ID == "" {
		return errors.New("session repository: session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return conflictError("session create", session.ID)
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

// Get returns a copy of the stored session.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckoutSession{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, notFoundError("session get", sessionID)
	}
	return session.Clone(), nil
}

// Update applies mutate to the stored session while holding the store lock,
// making read-modify-write sequences atomic per session. When mutate returns
// an error the stored session is left untouched.
func (r *SessionRepository) Update(ctx context.Context, sessionID string, mutate func(*domain.CheckoutSession) error) (domain.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckoutSession{}, err
	}
	if mutate == nil {
		return domain.CheckoutSession{}, errors.New("session repository: mutate function is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, notFoundError("session update", sessionID)
	}

	working := stored.Clone()
	if err := mutate(&working); err != nil {
		return domain.CheckoutSession{}, err
	}
	working.ID = stored.ID
	r.sessions[sessionID] = working.Clone()
	return working, nil
}

// Delete removes the session. Deleting an unknown session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}

// DeleteExpired removes up to limit sessions whose expiry is not after now and
// returns how many were removed. A non-positive limit removes all expired sessions.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if limit > 0 && removed >= limit {
			break
		}
		if session.ExpiresAt.IsZero() || session.ExpiresAt.After(now) {
			continue
		}
		delete(r.sessions, id)
		removed++
	}
	return removed, nil
}

// Len reports the number of stored sessions, primarily for tests.
func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
