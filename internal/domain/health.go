package domain

import "time"

// HealthStatus classifies the outcome of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK    HealthStatus = "ok"
	HealthStatusError HealthStatus = "error"
)

// HealthCheck records a single dependency probe outcome.
type HealthCheck struct {
	Status   HealthStatus
	Detail   string
	Error    string
	Duration time.Duration
}

// HealthReport aggregates dependency probe outcomes for readiness reporting.
type HealthReport struct {
	Status    HealthStatus
	Checks    map[string]HealthCheck
	CheckedAt time.Time
}

// Healthy reports whether every dependency probe succeeded.
func (r HealthReport) Healthy() bool {
	return r.Status == HealthStatusOK
}
