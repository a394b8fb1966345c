package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docvault/internal/model"
	"docvault/internal/repository"
)

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

// DocumentPostgres implements repository.DocumentRepository.
type DocumentPostgres struct {
	*Store
}

// NewDocumentPostgres returns the document repository over a shared Store.
func NewDocumentPostgres(s *Store) *DocumentPostgres {
	return &DocumentPostgres{Store: s}
}

const documentColumns = `id, tenant_id, owner_id, filename, content_type, size_bytes, title, description,
		tags, attributes, status, current_version, checksum, scan_failed, created_at, updated_at`

// CreateVersion performs the atomic upload unit: upsert the document row,
// append exactly one version record, and stage the lifecycle event. The
// version guard makes a bypassed per-document lock fail loudly instead of
// corrupting the ledger.
func (s *DocumentPostgres) CreateVersion(ctx context.Context, doc *model.Document, rec *model.VersionRecord, evt *model.OutboxEvent) (*model.Document, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if rec.Version == 1 {
			const q = `
		INSERT INTO documents (id, tenant_id, owner_id, filename, content_type, size_bytes, title, description,
			tags, attributes, status, current_version, checksum, scan_failed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
			_, err := tx.ExecContext(ctx, q,
				doc.ID, doc.TenantID, doc.OwnerID, doc.Filename, doc.ContentType, doc.SizeBytes,
				doc.Title, doc.Description, marshalJSON(doc.Tags), marshalJSON(doc.Attributes),
				doc.Status, rec.Version, doc.Checksum, false, doc.CreatedAt, doc.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert document: %w", err)
			}
		} else {
			const q = `
		UPDATE documents
		SET filename = $1, content_type = $2, size_bytes = $3, title = $4, description = $5,
			tags = $6, attributes = $7, status = $8, current_version = $9, checksum = $10,
			scan_failed = FALSE, updated_at = $11
		WHERE id = $12 AND tenant_id = $13 AND current_version = $14
	`
			res, err := tx.ExecContext(ctx, q,
				doc.Filename, doc.ContentType, doc.SizeBytes, doc.Title, doc.Description,
				marshalJSON(doc.Tags), marshalJSON(doc.Attributes), doc.Status, rec.Version,
				doc.Checksum, doc.UpdatedAt, doc.ID, doc.TenantID, rec.Version-1,
			)
			if err != nil {
				return fmt.Errorf("update document: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update document rows: %w", err)
			}
			if n == 0 {
				return repository.ErrVersionConflict
			}
		}

		const qv = `
		INSERT INTO document_versions (document_id, version, backend, bucket, key, region, endpoint_url,
			size_bytes, checksum, created_by, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
		_, err := tx.ExecContext(ctx, qv,
			rec.DocumentID, rec.Version, rec.Location.Backend, rec.Location.Bucket, rec.Location.Key,
			rec.Location.Region, rec.Location.Endpoint, rec.SizeBytes, rec.Checksum,
			rec.CreatedBy, rec.Description, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert version record: %w", err)
		}

		return insertOutbox(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}

	out := *doc
	out.CurrentVersion = rec.Version
	return &out, nil
}

// FindByID fetches a single document scoped to its tenant.
func (s *DocumentPostgres) FindByID(ctx context.Context, tenantID, documentID string) (*model.Document, error) {
	q := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1 AND tenant_id = $2
	`
	return scanDocument(s.db.QueryRowContext(ctx, q, documentID, tenantID))
}

// UpdateStatus applies a guarded transition plus its event in one
// transaction. A guard miss returns (false, nil) so idempotent callers can
// treat it as a no-op.
func (s *DocumentPostgres) UpdateStatus(ctx context.Context, change repository.StatusChange, evt *model.OutboxEvent) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := applyStatusChange(ctx, tx, change)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		return insertOutbox(ctx, tx, evt)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// applyStatusChange runs a guarded document transition inside an existing
// transaction and reports whether the guard matched.
func applyStatusChange(ctx context.Context, tx *sql.Tx, change repository.StatusChange) (bool, error) {
	set := []string{"status = $1", "updated_at = $2"}
	args := []any{change.To, time.Now().UTC()}
	if change.ScanFailed != nil {
		args = append(args, *change.ScanFailed)
		set = append(set, fmt.Sprintf("scan_failed = $%d", len(args)))
	}

	args = append(args, change.DocumentID)
	where := fmt.Sprintf("id = $%d", len(args))
	args = append(args, change.TenantID)
	where += fmt.Sprintf(" AND tenant_id = $%d", len(args))

	guards := make([]string, 0, len(change.From))
	for _, from := range change.From {
		args = append(args, from)
		guards = append(guards, fmt.Sprintf("$%d", len(args)))
	}
	if len(guards) > 0 {
		where += fmt.Sprintf(" AND status IN (%s)", strings.Join(guards, ", "))
	}

	q := fmt.Sprintf("UPDATE documents SET %s WHERE %s", strings.Join(set, ", "), where)
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update status rows: %w", err)
	}
	return n > 0, nil
}

// List returns documents for one tenant using LIMIT/OFFSET pagination with
// a total count over the same filtered set. Tag filters require every tag
// to be present (jsonb containment).
func (s *DocumentPostgres) List(ctx context.Context, tenantID string, f repository.ListFilter, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	where := []string{"tenant_id = $1", "status <> $2"}
	args := []any{tenantID, model.StatusDeleted}

	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if len(f.Tags) > 0 {
		args = append(args, marshalJSON(f.Tags))
		where = append(where, fmt.Sprintf("tags @> $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.CreatedAfter.IsZero() {
		args = append(args, f.CreatedAfter)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.CreatedBefore.IsZero() {
		args = append(args, f.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	cond := strings.Join(where, " AND ")

	var total int
	qCount := "SELECT COUNT(*) FROM documents WHERE " + cond
	if err := s.db.QueryRowContext(ctx, qCount, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	order := sortColumn(f.SortBy)
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	args = append(args, pq.Limit)
	limitPos := len(args)
	args = append(args, pq.Offset)
	offsetPos := len(args)

	qList := fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE %s
		ORDER BY %s %s, id DESC
		LIMIT $%d OFFSET $%d
	`, documentColumns, cond, order, dir, limitPos, offsetPos)

	rows, err := s.db.QueryContext(ctx, qList, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items:   items,
		Total:   total,
		HasMore: pq.Offset+len(items) < total,
	}, nil
}

// ListVersions returns the version ledger oldest-to-newest. The tenant join
// keeps version history invisible across tenants.
func (s *DocumentPostgres) ListVersions(ctx context.Context, tenantID, documentID string) ([]model.VersionRecord, error) {
	const q = `
		SELECT v.document_id, v.version, v.backend, v.bucket, v.key, v.region, v.endpoint_url,
			v.size_bytes, v.checksum, v.created_by, v.description, v.created_at
		FROM document_versions v
		JOIN documents d ON d.id = v.document_id
		WHERE v.document_id = $1 AND d.tenant_id = $2
		ORDER BY v.version ASC
	`
	rows, err := s.db.QueryContext(ctx, q, documentID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]model.VersionRecord, 0)
	for rows.Next() {
		var rec model.VersionRecord
		if err := rows.Scan(
			&rec.DocumentID, &rec.Version, &rec.Location.Backend, &rec.Location.Bucket,
			&rec.Location.Key, &rec.Location.Region, &rec.Location.Endpoint,
			&rec.SizeBytes, &rec.Checksum, &rec.CreatedBy, &rec.Description, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestVersion returns the most recent version record for a document.
func (s *DocumentPostgres) LatestVersion(ctx context.Context, documentID string) (*model.VersionRecord, error) {
	const q = `
		SELECT document_id, version, backend, bucket, key, region, endpoint_url,
			size_bytes, checksum, created_by, description, created_at
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	var rec model.VersionRecord
	err := s.db.QueryRowContext(ctx, q, documentID).Scan(
		&rec.DocumentID, &rec.Version, &rec.Location.Backend, &rec.Location.Bucket,
		&rec.Location.Key, &rec.Location.Region, &rec.Location.Endpoint,
		&rec.SizeBytes, &rec.Checksum, &rec.CreatedBy, &rec.Description, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d     model.Document
		tags  []byte
		attrs []byte
	)
	err := row.Scan(
		&d.ID, &d.TenantID, &d.OwnerID, &d.Filename, &d.ContentType, &d.SizeBytes,
		&d.Title, &d.Description, &tags, &attrs, &d.Status, &d.CurrentVersion,
		&d.Checksum, &d.ScanFailed, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &d.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(attrs, &d.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return &d, nil
}

func sortColumn(name string) string {
	switch name {
	case "updated_at":
		return "updated_at"
	case "filename":
		return "filename"
	default:
		return "created_at"
	}
}
