package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
)

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatal("expected error for empty check set")
	}

	_, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "  ", Check: func(context.Context) error { return nil }}})
	if err == nil {
		t.Fatal("expected error for unnamed check")
	}

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore"}})
	if err == nil {
		t.Fatal("expected error for missing check function")
	}
}

func TestCollectReportsPerDependencyOutcomes(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "orders-api", Check: func(context.Context) error { return errors.New("dial tcp: connection refused") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	if report.Healthy() {
		t.Fatal("expected unhealthy report when a dependency fails")
	}
	if got := report.Checks["firestore"].Status; got != domain.HealthStatusOK {
		t.Fatalf("firestore check status = %q", got)
	}
	failed := report.Checks["orders-api"]
	if failed.Status != domain.HealthStatusError || failed.Detail != "failed" {
		t.Fatalf("unexpected orders-api check %#v", failed)
	}
	if failed.Error == "" {
		t.Fatal("expected error detail for failed check")
	}
}

func TestCollectTimesOutSlowChecks(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "pubsub",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
					return nil
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	check := report.Checks["pubsub"]
	if check.Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %#v", check)
	}
}
