package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

const defaultAuditSeverity = "info"

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo        repositories.AuditLogRepository
	clock       func() time.Time
	idGenerator func() string
	logger      AuditLogger
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      AuditLogger
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:        deps.Repository,
		clock:       func() time.Time { return clock().UTC() },
		idGenerator: idGen,
		logger:      logger,
	}, nil
}

// Record persists an audit log entry after sanitising its fields. Repository
// failures are logged but do not bubble up, so a dropped audit write never
// interrupts the mutation that triggered it.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if entry.Event == "" {
		s.logger.Warnf("audit log entry dropped: event name is empty")
		return
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List delegates to the repository to retrieve paginated audit logs.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	page, err := s.repo.List(ctx, repositories.AuditLogFilter{
		SubjectRef: strings.TrimSpace(filter.SubjectRef),
		Event:      strings.TrimSpace(filter.Event),
		Severity:   normalizeSeverity(filter.Severity, ""),
		DateRange:  filter.DateRange,
		Pagination: domain.Pagination{PageSize: filter.Pagination.PageSize, PageToken: filter.Pagination.PageToken},
	})
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, err
	}
	return domain.CursorPage[AuditLogEntry]{
		Items:         page.Items,
		NextPageToken: page.NextPageToken,
	}, nil
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	entry := domain.AuditLogEntry{
		ID:         "audit_" + s.idGenerator(),
		Event:      sanitizeText(record.Event, 120),
		ActorID:    sanitizeText(record.Actor, 160),
		SubjectRef: sanitizeText(record.SubjectRef, 200),
		Severity:   normalizeSeverity(record.Severity, defaultAuditSeverity),
		CreatedAt:  occurred,
	}

	if len(record.Metadata) > 0 {
		detail := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			trimmedKey := sanitizeText(key, 80)
			if trimmedKey == "" {
				continue
			}
			detail[trimmedKey] = sanitizeMetadataValue(value)
		}
		if len(detail) > 0 {
			entry.Detail = detail
		}
	}

	return entry
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}

func normalizeSeverity(severity, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warning"
	case "error":
		return "error"
	case "security":
		return "security"
	case "info":
		return "info"
	default:
		return fallback
	}
}

func sanitizeMetadataValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
