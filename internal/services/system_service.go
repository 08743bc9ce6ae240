package services

import (
	"context"
	"errors"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

// SystemServiceDeps wires the dependencies required by the system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type systemService struct {
	health repositories.HealthRepository
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewSystemService constructs a SystemService validating required dependencies.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &systemService{health: deps.Health, logger: logger}, nil
}

// Readiness collects the dependency probes into one report.
func (s *systemService) Readiness(ctx context.Context) (domain.HealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return domain.HealthReport{}, err
	}
	if !report.Healthy() {
		s.logger(ctx, "system.readiness.degraded", map[string]any{
			"checks": len(report.Checks),
		})
	}
	return report, nil
}
