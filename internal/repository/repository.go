// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.
// No business logic here, strictly persistence contracts.
package repository

import (
	"context"
	"errors"
	"time"

	"docvault/internal/model"
)

// ErrVersionConflict is returned when a version append does not follow the
// previous maximum. The coordinator serializes appends per document, so a
// conflict indicates a caller bypassing that lock.
var ErrVersionConflict = errors.New("version is not previous max + 1")

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper. Total and HasMore are
// computed against the filtered set, not the unfiltered table.
type PageResult[T any] struct {
	Items   []T
	Total   int
	HasMore bool
}

// ListFilter narrows a tenant's document listing. Tags use AND semantics:
// every listed tag must be present on a matching document.
type ListFilter struct {
	OwnerID       string
	Tags          []string
	Status        model.DocumentStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time
	SortBy        string
	SortDesc      bool
}

// StatusChange is a guarded document status transition. It applies only if
// the current status is one of From; otherwise it is a no-op.
type StatusChange struct {
	TenantID   string
	DocumentID string
	From       []model.DocumentStatus
	To         model.DocumentStatus
	ScanFailed *bool
}

// DocumentRepository defines persistence for documents and their version
// ledger. Writes that carry an event persist the outbox row in the same
// transaction as the state change.
type DocumentRepository interface {
	// CreateVersion atomically upserts the document row, appends one version
	// record (enforcing rec.Version == previous max + 1), and stages the
	// lifecycle event. Returns the stored document.
	CreateVersion(ctx context.Context, doc *model.Document, rec *model.VersionRecord, evt *model.OutboxEvent) (*model.Document, error)

	// FindByID returns a document scoped to its tenant. A tenant mismatch is
	// reported as sql.ErrNoRows, indistinguishable from absence.
	FindByID(ctx context.Context, tenantID, documentID string) (*model.Document, error)

	// UpdateStatus applies a guarded transition and stages the optional
	// event. Returns false without error when the guard did not match.
	UpdateStatus(ctx context.Context, change StatusChange, evt *model.OutboxEvent) (bool, error)

	// List returns a filtered, paginated page of a tenant's documents.
	// Soft-deleted documents are excluded.
	List(ctx context.Context, tenantID string, f ListFilter, pq PageQuery) (*PageResult[model.Document], error)

	// ListVersions returns the version ledger oldest-to-newest.
	ListVersions(ctx context.Context, tenantID, documentID string) ([]model.VersionRecord, error)

	// LatestVersion returns the most recent version record.
	LatestVersion(ctx context.Context, documentID string) (*model.VersionRecord, error)
}

// ScanRepository defines persistence for scan attempts. Results are
// finalized exactly once; Finalize applies the induced document transition
// and its event in the same transaction.
type ScanRepository interface {
	Create(ctx context.Context, res *model.ScanResult) error
	MarkScanning(ctx context.Context, scanID string) error
	Finalize(ctx context.Context, res *model.ScanResult, change *StatusChange, evt *model.OutboxEvent) (bool, error)
	FindByID(ctx context.Context, scanID string) (*model.ScanResult, error)
	LatestCompleted(ctx context.Context, documentID string) (*model.ScanResult, error)
}

// OutboxRepository drains staged lifecycle events. Delete removes an entry
// only after confirmed publish; Reschedule pushes a failed entry into the
// future for retry.
type OutboxRepository interface {
	Due(ctx context.Context, now time.Time, limit int) ([]model.OutboxEvent, error)
	Delete(ctx context.Context, eventID string) error
	Reschedule(ctx context.Context, eventID string, attempts int, next time.Time) error
}
