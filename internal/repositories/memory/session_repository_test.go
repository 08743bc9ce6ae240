package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

func newTestSession(id string) domain.CheckoutSession {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	return domain.CheckoutSession{
		ID:     id,
		UserID: "user-1",
		Step:   domain.StepSummary,
		Price: domain.PriceSnapshot{
			UnitPrice: 8999,
			Quantity:  2,
		},
		Errors:    map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(45 * time.Minute),
	}
}

func TestSessionRepositoryCreateAndGet(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	session := newTestSession("cs_1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := repo.Create(ctx, session); err == nil {
		t.Fatal("expected conflict on duplicate create")
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict repository error, got %v", err)
		}
	}

	got, err := repo.Get(ctx, "cs_1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.UserID != "user-1" || got.Step != domain.StepSummary {
		t.Fatalf("unexpected session %#v", got)
	}

	// Mutating the returned copy must not leak into the store.
	got.Errors["name"] = "Name is required"
	fresh, err := repo.Get(ctx, "cs_1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(fresh.Errors) != 0 {
		t.Fatalf("stored session shares error map: %#v", fresh.Errors)
	}
}

func TestSessionRepositoryGetMissing(t *testing.T) {
	repo := NewSessionRepository()

	_, err := repo.Get(context.Background(), "cs_nope")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not-found repository error, got %v", err)
	}
}

func TestSessionRepositoryUpdateIsAtomic(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()
	if err := repo.Create(ctx, newTestSession("cs_1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// Many goroutines flip Submitting; exactly one should observe it unset.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "cs_1", func(s *domain.CheckoutSession) error {
				if s.Submitting {
					return nil
				}
				s.Submitting = true
				mu.Lock()
				wins++
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Update returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one goroutine to claim the session, got %d", wins)
	}
}

func TestSessionRepositoryUpdateErrorLeavesStateUntouched(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()
	if err := repo.Create(ctx, newTestSession("cs_1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	boom := errors.New("boom")
	_, err := repo.Update(ctx, "cs_1", func(s *domain.CheckoutSession) error {
		s.Step = domain.StepPayment
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}

	got, err := repo.Get(ctx, "cs_1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Step != domain.StepSummary {
		t.Fatalf("failed update mutated stored session: step %q", got.Step)
	}
}

func TestSessionRepositoryDeleteExpired(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	expired := newTestSession("cs_old")
	expired.ExpiresAt = now.Add(-time.Minute)
	live := newTestSession("cs_live")
	live.ExpiresAt = now.Add(time.Hour)

	for _, s := range []domain.CheckoutSession{expired, live} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	removed, err := repo.DeleteExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed session, got %d", removed)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 remaining session, got %d", repo.Len())
	}
	if _, err := repo.Get(ctx, "cs_live"); err != nil {
		t.Fatalf("live session should survive: %v", err)
	}
}
