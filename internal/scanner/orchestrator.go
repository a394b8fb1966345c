package scanner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"docvault/internal/lock"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
)

// RetryPolicy bounds scan attempts against a flaky engine. After the
// retries are exhausted the scan is finalized as failed and the document
// is flagged scan-failed; unscanned content is never promoted to active.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns the production retry curve.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      uint64(maxRetries),
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

type pendingScan struct {
	done chan struct{}
	res  *model.ScanResult
}

// Orchestrator owns the scan state machine. Submit returns immediately;
// scanning runs out of band and the per-document lock is re-acquired only
// to apply the resulting status transition.
type Orchestrator struct {
	store  storage.Backend
	engine Engine
	scans  repository.ScanRepository
	locks  *lock.Keyed
	policy RetryPolicy
	log    *slog.Logger

	mu      sync.Mutex
	waiters map[string]*pendingScan
	wg      sync.WaitGroup
}

// NewOrchestrator wires the scan pipeline.
func NewOrchestrator(store storage.Backend, engine Engine, scans repository.ScanRepository, locks *lock.Keyed, policy RetryPolicy, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		engine:  engine,
		scans:   scans,
		locks:   locks,
		policy:  policy,
		log:     log,
		waiters: make(map[string]*pendingScan),
	}
}

// Submit registers a new scan attempt for one document version and starts
// it asynchronously. Rescans are always permitted; each call produces a
// fresh scan result.
func (o *Orchestrator) Submit(ctx context.Context, doc *model.Document, version int, loc model.StorageLocation) (string, error) {
	scanID := uuid.NewString()
	res := &model.ScanResult{
		ScanID:     scanID,
		DocumentID: doc.ID,
		Version:    version,
		Status:     model.ScanPending,
	}
	if err := o.scans.Create(ctx, res); err != nil {
		return "", fmt.Errorf("create scan record: %w", err)
	}

	o.mu.Lock()
	o.waiters[scanID] = &pendingScan{done: make(chan struct{})}
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(scanID, doc.ID, doc.TenantID, version, loc)

	return scanID, nil
}

// AwaitResult blocks until the scan finalizes, racing the completion
// channel against the timeout. Scans owned by another instance are polled
// through the store instead.
func (o *Orchestrator) AwaitResult(ctx context.Context, scanID string, timeout time.Duration) (*model.ScanResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	o.mu.Lock()
	p, inFlight := o.waiters[scanID]
	o.mu.Unlock()

	if inFlight {
		select {
		case <-p.done:
			return p.res, nil
		case <-timer.C:
			return nil, fmt.Errorf("await scan %s: %w", scanID, context.DeadlineExceeded)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		res, err := o.scans.FindByID(ctx, scanID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrScanNotFound
		}
		if err != nil {
			return nil, err
		}
		if res.Status == model.ScanCompleted || res.Status == model.ScanFailed {
			return res, nil
		}
		select {
		case <-timer.C:
			return nil, fmt.Errorf("await scan %s: %w", scanID, context.DeadlineExceeded)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until all in-flight scans have finalized. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(scanID, documentID, tenantID string, version int, loc model.StorageLocation) {
	defer o.wg.Done()

	// Scans outlive the submitting request; they carry their own context.
	ctx := context.Background()
	start := time.Now()

	if err := o.scans.MarkScanning(ctx, scanID); err != nil {
		o.log.Error("mark scanning failed", "scan_id", scanID, "error", err)
	}

	report, scanErr := o.scanWithRetry(ctx, loc)

	res := &model.ScanResult{
		ScanID:     scanID,
		DocumentID: documentID,
		Version:    version,
		ScannedAt:  time.Now().UTC(),
		DurationMS: time.Since(start).Milliseconds(),
		Threats:    []model.ThreatDetail{},
	}

	var change *repository.StatusChange
	switch {
	case scanErr != nil:
		res.Status = model.ScanFailed
		res.Verdict = model.VerdictError
		flag := true
		// The document stays in processing; the flag surfaces the stuck
		// scan to operators instead of auto-promoting unscanned content.
		change = &repository.StatusChange{
			TenantID:   tenantID,
			DocumentID: documentID,
			From:       []model.DocumentStatus{model.StatusProcessing},
			To:         model.StatusProcessing,
			ScanFailed: &flag,
		}
		o.log.Error("scan exhausted retries", "scan_id", scanID, "document_id", documentID, "error", scanErr)
	case report.Verdict == model.VerdictClean:
		res.Status = model.ScanCompleted
		res.Verdict = model.VerdictClean
		res.ScannerVersion = report.EngineVersion
		cleared := false
		// Only the latest completed scan governs status: a clean rescan
		// releases a quarantined document, and a clean result always
		// clears a prior scan-failed flag.
		change = &repository.StatusChange{
			TenantID:   tenantID,
			DocumentID: documentID,
			From:       []model.DocumentStatus{model.StatusProcessing, model.StatusQuarantined, model.StatusActive},
			To:         model.StatusActive,
			ScanFailed: &cleared,
		}
	default:
		res.Status = model.ScanCompleted
		res.Verdict = report.Verdict
		res.Threats = report.Threats
		res.ScannerVersion = report.EngineVersion
		cleared := false
		// A rescan can quarantine a document that already went active.
		change = &repository.StatusChange{
			TenantID:   tenantID,
			DocumentID: documentID,
			From:       []model.DocumentStatus{model.StatusProcessing, model.StatusActive, model.StatusQuarantined},
			To:         model.StatusQuarantined,
			ScanFailed: &cleared,
		}
	}

	evt := scannedEvent(res, tenantID)

	release := o.locks.Acquire(documentID)
	applied, err := o.scans.Finalize(ctx, res, change, evt)
	release()
	if err != nil {
		o.log.Error("finalize scan failed", "scan_id", scanID, "document_id", documentID, "error", err)
	} else if !applied {
		o.log.Warn("scan already finalized", "scan_id", scanID)
	} else {
		o.log.Info("scan finalized",
			"scan_id", scanID,
			"document_id", documentID,
			"result", string(res.Verdict),
			"duration_ms", res.DurationMS,
		)
	}

	o.mu.Lock()
	p := o.waiters[scanID]
	delete(o.waiters, scanID)
	o.mu.Unlock()
	if p != nil {
		p.res = res
		close(p.done)
	}
}

// scanWithRetry fetches the content from storage and scans it, retrying
// engine-level failures with exponential backoff. Content is re-fetched
// per attempt so the stream is always read from the start.
func (o *Orchestrator) scanWithRetry(ctx context.Context, loc model.StorageLocation) (*Report, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.policy.InitialInterval
	b.MaxInterval = o.policy.MaxInterval
	b.Multiplier = o.policy.Multiplier

	var report *Report
	op := func() error {
		rc, err := o.store.Get(ctx, loc)
		if err != nil {
			if errors.Is(err, model.ErrObjectNotFound) {
				// Metadata/storage divergence is not going to heal itself.
				return backoff.Permanent(err)
			}
			return err
		}
		defer rc.Close()

		r, err := o.engine.Scan(ctx, rc)
		if err != nil {
			return err
		}
		if r.Verdict == model.VerdictError {
			return fmt.Errorf("%w: engine reported internal error", model.ErrScanEngine)
		}
		report = r
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, o.policy.MaxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return report, nil
}

// scannedEvent builds the document.scanned outbox row for a finalization.
func scannedEvent(res *model.ScanResult, tenantID string) *model.OutboxEvent {
	payload, _ := json.Marshal(model.ScannedPayload{
		DocumentID: res.DocumentID,
		TenantID:   tenantID,
		ScanID:     res.ScanID,
		Version:    res.Version,
		Result:     res.Verdict,
		Threats:    res.Threats,
	})
	return &model.OutboxEvent{
		EventID:    uuid.NewString(),
		EventType:  model.EventDocumentScanned,
		DocumentID: res.DocumentID,
		TenantID:   tenantID,
		Version:    res.Version,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}
