package domain

import "time"

// HealthStatus enumerates the coarse states a dependency probe can report.
type HealthStatus string

const (
	// HealthStatusOK means the dependency responded within its timeout.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded means the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError means the dependency timed out or was cancelled.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck is the outcome of probing a single dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency check outcomes for readiness probes.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
