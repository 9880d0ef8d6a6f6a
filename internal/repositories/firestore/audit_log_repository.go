package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/platform/pagination"
	"github.com/greenbasket/api/internal/repositories"
)

const auditLogCollection = "auditLogs"

// AuditLogRepository stores append-only audit entries. Entries are never
// updated or deleted once written.
type AuditLogRepository struct {
	provider *pfirestore.Provider
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{provider: provider}, nil
}

// Append writes a new audit entry.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.provider == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.Event) == "" {
		return errors.New("audit log repository: event is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("auditLogs.append", err)
	}

	coll := client.Collection(auditLogCollection)
	ref := coll.NewDoc()
	if id := strings.TrimSpace(entry.ID); id != "" {
		ref = coll.Doc(id)
	}

	doc := auditLogDocument{
		Event:      strings.TrimSpace(entry.Event),
		ActorID:    strings.TrimSpace(entry.ActorID),
		SubjectRef: strings.TrimSpace(entry.SubjectRef),
		Severity:   strings.TrimSpace(entry.Severity),
		Detail:     entry.Detail,
		CreatedAt:  entry.CreatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("auditLogs.append", err)
	}
	return nil
}

// List returns a page of audit entries matching the filter, newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
	}

	query := client.Collection(auditLogCollection).Query
	if subject := strings.TrimSpace(filter.SubjectRef); subject != "" {
		query = query.Where("subjectRef", "==", subject)
	}
	if event := strings.TrimSpace(filter.Event); event != "" {
		query = query.Where("event", "==", event)
	}
	if severity := strings.TrimSpace(filter.Severity); severity != "" {
		query = query.Where("severity", "==", severity)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.AuditLogEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("decode audit entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		encoded, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt.UTC(), ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.AuditLogEntry]{Items: entries, NextPageToken: nextToken}, nil
}

type auditLogDocument struct {
	Event      string         `firestore:"event"`
	ActorID    string         `firestore:"actorId,omitempty"`
	SubjectRef string         `firestore:"subjectRef,omitempty"`
	Severity   string         `firestore:"severity,omitempty"`
	Detail     map[string]any `firestore:"detail,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:         id,
		Event:      d.Event,
		ActorID:    d.ActorID,
		SubjectRef: d.SubjectRef,
		Severity:   d.Severity,
		Detail:     d.Detail,
		CreatedAt:  d.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
