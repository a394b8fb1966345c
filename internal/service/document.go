// Package service contains the lifecycle coordinator: the single entry
// point that sequences storage, checksum verification, the version ledger,
// scan orchestration, and event staging.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"docvault/internal/checksum"
	"docvault/internal/config"
	"docvault/internal/lock"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/session"
	"docvault/internal/storage"
)

// UploadRequest carries one upload: metadata plus the content stream.
// DocumentID is empty for a new document and set to append a version to an
// existing one. ExpectedChecksum, when given, is verified against the
// digest computed while streaming.
type UploadRequest struct {
	TenantID         string
	OwnerID          string
	DocumentID       string
	IdempotencyKey   string
	Filename         string
	ContentType      string
	Size             int64
	Title            string
	Description      string
	Tags             []string
	Attributes       map[string]string
	ExpectedChecksum string
	Content          io.Reader
}

// Validate checks the metadata the caller controls.
func (r UploadRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.OwnerID, validation.Required),
		validation.Field(&r.Filename, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.ContentType, validation.Required),
		validation.Field(&r.Size, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.Title, validation.Length(0, 500)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if r.Content == nil {
		return fmt.Errorf("%w: content stream is required", model.ErrValidation)
	}
	return nil
}

// ListResult is the service-level DTO for paginated documents.
type ListResult struct {
	Items   []model.Document `json:"data"`
	Total   int              `json:"total"`
	HasMore bool             `json:"has_more"`
}

// ScanOrchestrator is the slice of the scan pipeline the coordinator needs.
type ScanOrchestrator interface {
	Submit(ctx context.Context, doc *model.Document, version int, loc model.StorageLocation) (string, error)
	AwaitResult(ctx context.Context, scanID string, timeout time.Duration) (*model.ScanResult, error)
}

// DocumentService defines the document lifecycle use cases.
type DocumentService interface {
	// Upload persists content and metadata as one logical unit and kicks
	// off an asynchronous scan. The returned document is in processing.
	Upload(ctx context.Context, req UploadRequest) (*model.Document, error)

	// Get returns a document's metadata, optionally with a content stream.
	// Quarantined content is withheld unless admin is set.
	Get(ctx context.Context, tenantID, documentID string, includeContent, admin bool) (*model.Document, io.ReadCloser, error)

	// List returns a filtered, paginated page of a tenant's documents.
	List(ctx context.Context, tenantID string, f repository.ListFilter, pq repository.PageQuery) (*ListResult, error)

	// ListVersions returns the version ledger oldest-to-newest.
	ListVersions(ctx context.Context, tenantID, documentID string) ([]model.VersionRecord, error)

	// Delete soft-deletes a document. Idempotent: archiving an archived
	// document is a no-op success.
	Delete(ctx context.Context, tenantID, documentID string) error

	// TriggerScan starts a rescan of the document's current version.
	TriggerScan(ctx context.Context, tenantID, documentID string) (string, error)

	// AwaitScan blocks until the scan finalizes or the configured timeout.
	AwaitScan(ctx context.Context, scanID string) (*model.ScanResult, error)

	// LatestScan returns the most recent completed scan for a document.
	LatestScan(ctx context.Context, tenantID, documentID string) (*model.ScanResult, error)
}

type documentService struct {
	docs     repository.DocumentRepository
	scans    repository.ScanRepository
	store    storage.Backend
	sessions session.Store
	scanner  ScanOrchestrator
	locks    *lock.Keyed
	log      *slog.Logger

	maxBytes     int64
	awaitTimeout time.Duration
}

// NewDocumentService constructs the lifecycle coordinator.
func NewDocumentService(
	docs repository.DocumentRepository,
	scans repository.ScanRepository,
	store storage.Backend,
	sessions session.Store,
	scanner ScanOrchestrator,
	locks *lock.Keyed,
	cfg *config.AppConfig,
	log *slog.Logger,
) DocumentService {
	return &documentService{
		docs:         docs,
		scans:        scans,
		store:        store,
		sessions:     sessions,
		scanner:      scanner,
		locks:        locks,
		log:          log,
		maxBytes:     cfg.Upload.MaxFileSizeBytes(),
		awaitTimeout: cfg.ClamAV.AwaitResult,
	}
}

func (s *documentService) Upload(ctx context.Context, req UploadRequest) (*model.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Size > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds ceiling of %d", model.ErrFileTooLarge, req.Size, s.maxBytes)
	}

	// A settled session means this exact upload already happened; return
	// the recorded outcome instead of appending a duplicate version.
	if req.IdempotencyKey != "" {
		out, err := s.sessions.Lookup(ctx, req.TenantID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if out != nil {
			doc, err := s.docs.FindByID(ctx, req.TenantID, out.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("replay session %s: %w", req.IdempotencyKey, err)
			}
			// Report the outcome this key produced, not whatever state a
			// later upload may have moved the document to.
			replay := *doc
			replay.CurrentVersion = out.Version
			replay.Status = out.Status
			replay.Checksum = out.Checksum
			s.log.Info("upload replayed from session",
				"tenant_id", req.TenantID,
				"document_id", out.DocumentID,
				"version", out.Version,
			)
			return &replay, nil
		}
	}

	documentID := req.DocumentID
	if documentID == "" {
		documentID = uuid.NewString()
	}
	uploadID := req.IdempotencyKey
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	// Stream to storage exactly once, hashing on the way through.
	digest := checksum.New()
	loc, err := s.store.Put(ctx, storage.PutInput{
		TenantID:    req.TenantID,
		DocumentID:  documentID,
		UploadID:    uploadID,
		Body:        digest.Tee(req.Content),
		Size:        req.Size,
		ContentType: req.ContentType,
		Metadata: map[string]string{
			"original-filename": req.Filename,
			"owner-id":          req.OwnerID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	if req.ExpectedChecksum != "" && !checksum.Matches(req.ExpectedChecksum, digest.Sum()) {
		s.compensate(ctx, loc, "checksum mismatch")
		return nil, fmt.Errorf("%w: expected %s, got %s", model.ErrIntegrityMismatch, req.ExpectedChecksum, digest.Sum())
	}
	if digest.Size() != req.Size {
		s.compensate(ctx, loc, "size mismatch")
		return nil, fmt.Errorf("%w: declared %d bytes, received %d", model.ErrIntegrityMismatch, req.Size, digest.Size())
	}

	release := s.locks.Acquire(documentID)
	defer release()

	version := 1
	existing, err := s.docs.FindByID(ctx, req.TenantID, documentID)
	switch {
	case err == nil:
		if existing.Status.Terminal() {
			s.compensate(ctx, loc, "terminal document")
			return nil, fmt.Errorf("%w: document %s", model.ErrNotFound, documentID)
		}
		version = existing.CurrentVersion + 1
	case errors.Is(err, sql.ErrNoRows):
		if req.DocumentID != "" {
			s.compensate(ctx, loc, "unknown document")
			return nil, fmt.Errorf("%w: document %s", model.ErrNotFound, req.DocumentID)
		}
	default:
		s.compensate(ctx, loc, "lookup failed")
		return nil, err
	}

	now := time.Now().UTC()
	createdAt := now
	if existing != nil {
		// The row's created_at is immutable across version appends.
		createdAt = existing.CreatedAt
	}
	doc := &model.Document{
		ID:             documentID,
		TenantID:       req.TenantID,
		OwnerID:        req.OwnerID,
		Filename:       strings.TrimSpace(req.Filename),
		ContentType:    req.ContentType,
		SizeBytes:      digest.Size(),
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		Tags:           normalizeTags(req.Tags),
		Attributes:     req.Attributes,
		Status:         model.StatusProcessing,
		CurrentVersion: version,
		Checksum:       digest.Sum(),
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}
	rec := &model.VersionRecord{
		DocumentID:  documentID,
		Version:     version,
		Location:    loc,
		SizeBytes:   digest.Size(),
		Checksum:    digest.Sum(),
		CreatedBy:   req.OwnerID,
		CreatedAt:   now,
		Description: req.Description,
	}
	evt := uploadedEvent(doc)

	stored, err := s.docs.CreateVersion(ctx, doc, rec, evt)
	if err != nil {
		// Metadata never landed; remove the orphaned object.
		s.compensate(ctx, loc, "metadata write failed")
		return nil, fmt.Errorf("record version: %w", err)
	}

	if req.IdempotencyKey != "" {
		out := session.Outcome{
			DocumentID: stored.ID,
			Version:    stored.CurrentVersion,
			Status:     stored.Status,
			Checksum:   stored.Checksum,
		}
		if err := s.sessions.Record(ctx, req.TenantID, req.IdempotencyKey, out); err != nil {
			// The upload is durable; a lost session only costs idempotency
			// for this key.
			s.log.Warn("record upload session failed", "tenant_id", req.TenantID, "error", err)
		}
	}

	scanID, err := s.scanner.Submit(ctx, stored, version, loc)
	if err != nil {
		s.log.Error("submit scan failed", "document_id", stored.ID, "version", version, "error", err)
	}

	s.log.Info("document uploaded",
		"tenant_id", req.TenantID,
		"document_id", stored.ID,
		"version", version,
		"size_bytes", digest.Size(),
		"scan_id", scanID,
	)
	return stored, nil
}

func (s *documentService) Get(ctx context.Context, tenantID, documentID string, includeContent, admin bool) (*model.Document, io.ReadCloser, error) {
	doc, err := s.find(ctx, tenantID, documentID)
	if err != nil {
		return nil, nil, err
	}

	if !includeContent {
		return doc, nil, nil
	}
	if doc.Status == model.StatusQuarantined && !admin {
		return nil, nil, fmt.Errorf("%w: document %s", model.ErrQuarantined, documentID)
	}

	rec, err := s.docs.LatestVersion(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve content location: %w", err)
	}
	rc, err := s.store.Get(ctx, rec.Location)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch content: %w", err)
	}
	return doc, rc, nil
}

func (s *documentService) List(ctx context.Context, tenantID string, f repository.ListFilter, pq repository.PageQuery) (*ListResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", model.ErrValidation)
	}
	if pq.Limit <= 0 {
		pq.Limit = 20
	}
	if pq.Limit > 100 {
		pq.Limit = 100
	}
	if pq.Offset < 0 {
		pq.Offset = 0
	}

	res, err := s.docs.List(ctx, tenantID, f, pq)
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: res.Items, Total: res.Total, HasMore: res.HasMore}, nil
}

func (s *documentService) ListVersions(ctx context.Context, tenantID, documentID string) ([]model.VersionRecord, error) {
	if _, err := s.find(ctx, tenantID, documentID); err != nil {
		return nil, err
	}
	return s.docs.ListVersions(ctx, tenantID, documentID)
}

func (s *documentService) Delete(ctx context.Context, tenantID, documentID string) error {
	release := s.locks.Acquire(documentID)
	defer release()

	doc, err := s.find(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if doc.Status == model.StatusArchived {
		return nil
	}
	if doc.Status != model.StatusActive && doc.Status != model.StatusQuarantined {
		return fmt.Errorf("%w: document %s is %s", model.ErrValidation, documentID, doc.Status)
	}

	change := repository.StatusChange{
		TenantID:   tenantID,
		DocumentID: documentID,
		From:       []model.DocumentStatus{model.StatusActive, model.StatusQuarantined},
		To:         model.StatusArchived,
	}
	applied, err := s.docs.UpdateStatus(ctx, change, deletedEvent(doc))
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	if applied {
		s.log.Info("document archived", "tenant_id", tenantID, "document_id", documentID)
	}
	return nil
}

func (s *documentService) TriggerScan(ctx context.Context, tenantID, documentID string) (string, error) {
	doc, err := s.find(ctx, tenantID, documentID)
	if err != nil {
		return "", err
	}
	rec, err := s.docs.LatestVersion(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("resolve content location: %w", err)
	}
	scanID, err := s.scanner.Submit(ctx, doc, rec.Version, rec.Location)
	if err != nil {
		return "", fmt.Errorf("submit scan: %w", err)
	}
	return scanID, nil
}

func (s *documentService) AwaitScan(ctx context.Context, scanID string) (*model.ScanResult, error) {
	return s.scanner.AwaitResult(ctx, scanID, s.awaitTimeout)
}

func (s *documentService) LatestScan(ctx context.Context, tenantID, documentID string) (*model.ScanResult, error) {
	if _, err := s.find(ctx, tenantID, documentID); err != nil {
		return nil, err
	}
	res, err := s.scans.LatestCompleted(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no completed scan for document %s", model.ErrScanNotFound, documentID)
	}
	return res, err
}

// find resolves a visible document. Tenant mismatch and soft-deleted rows
// both surface as NotFound so existence never leaks across tenants.
func (s *documentService) find(ctx context.Context, tenantID, documentID string) (*model.Document, error) {
	if tenantID == "" || documentID == "" {
		return nil, fmt.Errorf("%w: tenant id and document id are required", model.ErrValidation)
	}
	doc, err := s.docs.FindByID(ctx, tenantID, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", model.ErrNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}
	if doc.Status == model.StatusDeleted {
		return nil, fmt.Errorf("%w: document %s", model.ErrNotFound, documentID)
	}
	return doc, nil
}

// compensate removes an object whose metadata never became visible.
func (s *documentService) compensate(ctx context.Context, loc model.StorageLocation, reason string) {
	if err := s.store.Delete(ctx, loc); err != nil {
		s.log.Error("compensating delete failed", "bucket", loc.Bucket, "key", loc.Key, "reason", reason, "error", err)
	}
}

// normalizeTags trims, lowercases, de-duplicates, and drops empties.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func uploadedEvent(doc *model.Document) *model.OutboxEvent {
	payload, _ := json.Marshal(model.UploadedPayload{
		DocumentID:  doc.ID,
		TenantID:    doc.TenantID,
		OwnerID:     doc.OwnerID,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		SizeBytes:   doc.SizeBytes,
		Version:     doc.CurrentVersion,
		Checksum:    doc.Checksum,
	})
	return &model.OutboxEvent{
		EventID:    uuid.NewString(),
		EventType:  model.EventDocumentUploaded,
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Version:    doc.CurrentVersion,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

func deletedEvent(doc *model.Document) *model.OutboxEvent {
	payload, _ := json.Marshal(model.DeletedPayload{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		OwnerID:    doc.OwnerID,
		Filename:   doc.Filename,
		Version:    doc.CurrentVersion,
	})
	return &model.OutboxEvent{
		EventID:    uuid.NewString(),
		EventType:  model.EventDocumentDeleted,
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		Version:    doc.CurrentVersion,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}
