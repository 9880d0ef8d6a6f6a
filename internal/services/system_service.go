package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

var (
	// ErrSystemInvalidInput indicates the caller supplied invalid input.
	ErrSystemInvalidInput = errors.New("system service: invalid input")
	// ErrSystemCounterExhausted indicates the counter reached its configured bound.
	ErrSystemCounterExhausted = errors.New("system service: counter exhausted")
)

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Counters         repositories.CounterRepository
	Audit            AuditLogService
	Clock            func() time.Time
}

type systemService struct {
	healthRepo repositories.HealthRepository
	counters   repositories.CounterRepository
	audit      AuditLogService
	clock      func() time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the utility service behind health, audit and counter endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		counters:   deps.Counters,
		audit:      deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.clock()
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if len(report.Checks) == 0 {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = deriveStatus(report.Checks)
	}
	return report, nil
}

func (s *systemService) ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.audit == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("system service: audit service not configured")
	}
	return s.audit.List(ctx, filter)
}

func (s *systemService) NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error) {
	if s.counters == nil {
		return 0, errors.New("system service: counter repository not configured")
	}
	counterID := strings.TrimSpace(cmd.CounterID)
	if counterID == "" {
		return 0, fmt.Errorf("%w: counter id is required", ErrSystemInvalidInput)
	}
	step := cmd.Step
	if step <= 0 {
		step = 1
	}

	value, err := s.counters.Next(ctx, counterID, step)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorInvalidInput:
				return 0, fmt.Errorf("%w: %s", ErrSystemInvalidInput, counterErr.Message)
			case repositories.CounterErrorExhausted:
				return 0, fmt.Errorf("%w: %s", ErrSystemCounterExhausted, counterErr.Message)
			}
		}
		return 0, err
	}
	return value, nil
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	if len(checks) == 0 {
		return domain.HealthStatusOK
	}
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
