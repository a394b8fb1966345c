// Package outbox drains staged lifecycle events into the event bus.
// Delivery is at-least-once: rows are deleted only after a confirmed
// publish, and failed rows are rescheduled with exponential backoff.
package outbox

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"docvault/internal/config"
	"docvault/internal/event"
	"docvault/internal/repository"
)

const maxRescheduleDelay = 5 * time.Minute

// Dispatcher polls the outbox table and publishes due events in order.
type Dispatcher struct {
	repo      repository.OutboxRepository
	publisher event.Publisher
	interval  time.Duration
	batchSize int
	log       *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher wires the outbox poll loop.
func NewDispatcher(repo repository.OutboxRepository, publisher event.Publisher, cfg config.OutboxConfig, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the poll loop until Stop or context cancellation.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-ticker.C:
				d.Drain(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for the in-flight batch to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

// Drain publishes one batch of due events. Exported so a test or an
// operator endpoint can force a pass without waiting for the ticker.
func (d *Dispatcher) Drain(ctx context.Context) {
	events, err := d.repo.Due(ctx, time.Now().UTC(), d.batchSize)
	if err != nil {
		d.log.Error("outbox poll failed", "error", err)
		return
	}

	for _, evt := range events {
		if err := d.publisher.Publish(ctx, evt); err != nil {
			attempts := evt.Attempts + 1
			next := time.Now().UTC().Add(rescheduleDelay(attempts))
			d.log.Warn("publish failed, rescheduling",
				"event_id", evt.EventID,
				"event_type", evt.EventType,
				"attempts", attempts,
				"error", err,
			)
			if rerr := d.repo.Reschedule(ctx, evt.EventID, attempts, next); rerr != nil {
				d.log.Error("reschedule failed", "event_id", evt.EventID, "error", rerr)
			}
			continue
		}
		if err := d.repo.Delete(ctx, evt.EventID); err != nil {
			// The event was published; a delete failure means it will be
			// published again. Consumers de-duplicate on event_id.
			d.log.Error("delete published event failed", "event_id", evt.EventID, "error", err)
			continue
		}
		d.log.Info("event published", "event_id", evt.EventID, "event_type", evt.EventType, "document_id", evt.DocumentID)
	}
}

// rescheduleDelay doubles per attempt, capped at five minutes.
func rescheduleDelay(attempts int) time.Duration {
	if attempts > 8 {
		return maxRescheduleDelay
	}
	delay := time.Duration(math.Pow(2, float64(attempts))) * time.Second
	if delay > maxRescheduleDelay {
		return maxRescheduleDelay
	}
	return delay
}
