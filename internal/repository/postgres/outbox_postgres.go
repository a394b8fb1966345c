package postgres

import (
	"context"
	"fmt"
	"time"

	"docvault/internal/model"
	"docvault/internal/repository"
)

var _ repository.OutboxRepository = (*OutboxPostgres)(nil)

// OutboxPostgres implements repository.OutboxRepository.
type OutboxPostgres struct {
	*Store
}

// NewOutboxPostgres returns the outbox repository over a shared Store.
func NewOutboxPostgres(s *Store) *OutboxPostgres {
	return &OutboxPostgres{Store: s}
}

// Due returns staged events whose next attempt is at or before now, oldest
// first. The dispatcher is the only consumer of this queue.
func (s *OutboxPostgres) Due(ctx context.Context, now time.Time, limit int) ([]model.OutboxEvent, error) {
	const q = `
		SELECT event_id, event_type, document_id, tenant_id, version, payload, attempts, next_attempt_at, created_at
		FROM outbox_events
		WHERE next_attempt_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due events: %w", err)
	}
	defer rows.Close()

	out := make([]model.OutboxEvent, 0)
	for rows.Next() {
		var evt model.OutboxEvent
		if err := rows.Scan(
			&evt.EventID, &evt.EventType, &evt.DocumentID, &evt.TenantID, &evt.Version,
			&evt.Payload, &evt.Attempts, &evt.NextAttemptAt, &evt.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// Delete removes a staged event after its publish was confirmed.
func (s *OutboxPostgres) Delete(ctx context.Context, eventID string) error {
	const q = `DELETE FROM outbox_events WHERE event_id = $1`
	if _, err := s.db.ExecContext(ctx, q, eventID); err != nil {
		return fmt.Errorf("delete outbox event: %w", err)
	}
	return nil
}

// Reschedule records a failed publish attempt and pushes the event into
// the future. Events are never dropped; delivery is at-least-once.
func (s *OutboxPostgres) Reschedule(ctx context.Context, eventID string, attempts int, next time.Time) error {
	const q = `UPDATE outbox_events SET attempts = $1, next_attempt_at = $2 WHERE event_id = $3`
	if _, err := s.db.ExecContext(ctx, q, attempts, next, eventID); err != nil {
		return fmt.Errorf("reschedule outbox event: %w", err)
	}
	return nil
}
