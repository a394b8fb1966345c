// Package postgres implements the repository contracts over database/sql
// with parameterized queries. No business logic lives here.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docvault/internal/model"
)

// Store groups the postgres repositories over one connection pool.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// insertOutbox stages a lifecycle event inside the caller's transaction so
// the event becomes durable atomically with the state change producing it.
func insertOutbox(ctx context.Context, tx *sql.Tx, evt *model.OutboxEvent) error {
	if evt == nil {
		return nil
	}
	const q = `
		INSERT INTO outbox_events (event_id, event_type, document_id, tenant_id, version, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, q,
		evt.EventID,
		evt.EventType,
		evt.DocumentID,
		evt.TenantID,
		evt.Version,
		evt.Payload,
		evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func marshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All inputs are plain maps/slices of strings; this cannot fail.
		return []byte("null")
	}
	return b
}
