package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"docvault/internal/model"
	"docvault/internal/repository"
)

var _ repository.ScanRepository = (*ScanPostgres)(nil)

// ScanPostgres implements repository.ScanRepository.
type ScanPostgres struct {
	*Store
}

// NewScanPostgres returns the scan repository over a shared Store.
func NewScanPostgres(s *Store) *ScanPostgres {
	return &ScanPostgres{Store: s}
}

const scanColumns = `scan_id, document_id, version, status, result, threats, scanner_version, duration_ms, scanned_at`

// Create inserts a new pending scan attempt.
func (s *ScanPostgres) Create(ctx context.Context, res *model.ScanResult) error {
	const q = `
		INSERT INTO scan_results (scan_id, document_id, version, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, q, res.ScanID, res.DocumentID, res.Version, res.Status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert scan result: %w", err)
	}
	return nil
}

// MarkScanning moves a pending scan into the scanning state.
func (s *ScanPostgres) MarkScanning(ctx context.Context, scanID string) error {
	const q = `UPDATE scan_results SET status = $1 WHERE scan_id = $2 AND status = $3`
	_, err := s.db.ExecContext(ctx, q, model.ScanScanning, scanID, model.ScanPending)
	if err != nil {
		return fmt.Errorf("mark scanning: %w", err)
	}
	return nil
}

// Finalize writes the scan outcome and, in the same transaction, applies
// the induced document status transition with its lifecycle event. The
// status guard on scan_results makes finalization exactly-once: a scan that
// already completed or failed is left untouched and (false, nil) returned.
func (s *ScanPostgres) Finalize(ctx context.Context, res *model.ScanResult, change *repository.StatusChange, evt *model.OutboxEvent) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
		UPDATE scan_results
		SET status = $1, result = $2, threats = $3, scanner_version = $4, duration_ms = $5, scanned_at = $6
		WHERE scan_id = $7 AND status IN ($8, $9)
	`
		r, err := tx.ExecContext(ctx, q,
			res.Status, res.Verdict, marshalJSON(res.Threats), res.ScannerVersion,
			res.DurationMS, res.ScannedAt, res.ScanID, model.ScanPending, model.ScanScanning,
		)
		if err != nil {
			return fmt.Errorf("finalize scan: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("finalize scan rows: %w", err)
		}
		if n == 0 {
			return nil
		}
		applied = true

		if change != nil {
			// A guard miss here is not an error: a rescan may race a
			// delete, and the delete wins.
			if _, err := applyStatusChange(ctx, tx, *change); err != nil {
				return err
			}
		}
		return insertOutbox(ctx, tx, evt)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// FindByID fetches a single scan attempt.
func (s *ScanPostgres) FindByID(ctx context.Context, scanID string) (*model.ScanResult, error) {
	q := `SELECT ` + scanColumns + ` FROM scan_results WHERE scan_id = $1`
	return scanScanResult(s.db.QueryRowContext(ctx, q, scanID))
}

// LatestCompleted returns the most recent completed scan for a document.
// Only this result governs the document's effective quarantine state.
func (s *ScanPostgres) LatestCompleted(ctx context.Context, documentID string) (*model.ScanResult, error) {
	q := `
		SELECT ` + scanColumns + `
		FROM scan_results
		WHERE document_id = $1 AND status = $2
		ORDER BY scanned_at DESC
		LIMIT 1
	`
	return scanScanResult(s.db.QueryRowContext(ctx, q, documentID, model.ScanCompleted))
}

func scanScanResult(row rowScanner) (*model.ScanResult, error) {
	var (
		res       model.ScanResult
		threats   []byte
		verdict   sql.NullString
		scannedAt sql.NullTime
	)
	err := row.Scan(
		&res.ScanID, &res.DocumentID, &res.Version, &res.Status, &verdict,
		&threats, &res.ScannerVersion, &res.DurationMS, &scannedAt,
	)
	if err != nil {
		return nil, err
	}
	if verdict.Valid {
		res.Verdict = model.ScanVerdict(verdict.String)
	}
	if scannedAt.Valid {
		res.ScannedAt = scannedAt.Time
	}
	if err := json.Unmarshal(threats, &res.Threats); err != nil {
		return nil, fmt.Errorf("decode threats: %w", err)
	}
	return &res, nil
}
