package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/services"
)

// BuildInfo carries release metadata surfaced on the liveness endpoint.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers exposes liveness and readiness endpoints. Healthz never
// touches dependencies; Readyz probes them through the system service.
type HealthHandlers struct {
	system services.SystemService
	build  BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the system service used for readiness probes.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo attaches release metadata to health responses.
func WithHealthBuildInfo(build BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs handlers for /healthz and /readyz.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock().UTC()
	}
	return h
}

type healthzPayload struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type readyzPayload struct {
	Status    string                        `json:"status"`
	Checks    map[string]readyzCheckPayload `json:"checks,omitempty"`
	Details   []string                      `json:"details,omitempty"`
	Timestamp string                        `json:"timestamp"`
}

type readyzCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Healthz reports process liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthzPayload{
		Status:      string(domain.HealthStatusOK),
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes backing dependencies and returns 503 until all of them
// answer. Without a system service it degrades to a liveness check.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readyzPayload{
			Status:    string(domain.HealthStatusOK),
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzPayload{
			Status:    string(domain.HealthStatusError),
			Details:   []string{err.Error()},
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	payload := readyzPayload{
		Status:    string(report.Status),
		Checks:    make(map[string]readyzCheckPayload, len(report.Checks)),
		Timestamp: now.Format(time.RFC3339),
	}
	for name, check := range report.Checks {
		payload.Checks[name] = readyzCheckPayload{
			Status:    string(check.Status),
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if check.Status != domain.HealthStatusOK {
			detail := check.Error
			if detail == "" {
				detail = string(check.Status)
			}
			payload.Details = append(payload.Details, fmt.Sprintf("%s: %s", name, detail))
		}
	}
	sort.Strings(payload.Details)

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}
