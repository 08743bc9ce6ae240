package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
)

type stubSystemService struct {
	report domain.HealthReport
	err    error
}

func (s *stubSystemService) Readiness(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestRouterHealthz(t *testing.T) {
	r := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("unexpected status %v", resp["status"])
	}
}

func TestRouterReadyzDegraded(t *testing.T) {
	system := &stubSystemService{
		report: domain.HealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.HealthCheck{
				"firestore": {Status: domain.HealthStatusError, Error: "connection refused", Duration: 5 * time.Millisecond},
				"orders":    {Status: domain.HealthStatusOK, Duration: 3 * time.Millisecond},
			},
		},
	}
	r := NewRouter(WithHealthHandlers(NewHealthHandlers(system)))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if resp.Checks["firestore"]["error"] != "connection refused" {
		t.Fatalf("unexpected firestore check %v", resp.Checks["firestore"])
	}
}

func TestRouterReadyzCollectError(t *testing.T) {
	system := &stubSystemService{err: errors.New("collect failed")}
	r := NewRouter(WithHealthHandlers(NewHealthHandlers(system)))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRouterNotFoundEnvelope(t *testing.T) {
	r := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp["error"] != "route_not_found" {
		t.Fatalf("unexpected error code %v", resp["error"])
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	r := NewRouter()

	req := httptest.NewRequest(http.MethodDelete, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRouterCheckoutGroupMiddleware(t *testing.T) {
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	r := NewRouter(
		WithCheckoutMiddlewares(guard),
		WithCheckoutRoutes(func(group chi.Router) {
			group.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/checkout/ping", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with token, got %d", rec.Code)
	}
}
