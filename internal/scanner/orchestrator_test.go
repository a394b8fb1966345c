package scanner

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvault/internal/lock"
	"docvault/internal/model"
	"docvault/internal/repository"
	repomocks "docvault/internal/repository/mocks"
	storagemocks "docvault/internal/storage/mocks"
)

// stubEngine fails the first failures calls, then returns report.
type stubEngine struct {
	mu       sync.Mutex
	failures int
	err      error
	report   *Report
	calls    int
}

func (s *stubEngine) Scan(ctx context.Context, r io.Reader) (*Report, error) {
	io.Copy(io.Discard, r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubEngine) Ping(context.Context) error { return nil }

func (s *stubEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func testDoc() *model.Document {
	return &model.Document{
		ID:       "doc-1",
		TenantID: "tenant-1",
		Status:   model.StatusProcessing,
	}
}

func testLoc() model.StorageLocation {
	return model.StorageLocation{Backend: model.BackendMinIO, Bucket: "documents", Key: "tenant-1/doc-1/upl-1"}
}

func contentReader() func() io.ReadCloser {
	return func() io.ReadCloser { return io.NopCloser(strings.NewReader("content")) }
}

func TestOrchestratorCleanVerdictActivates(t *testing.T) {
	store := new(storagemocks.MockBackend)
	scans := new(repomocks.MockScanRepository)
	engine := &stubEngine{report: &Report{Verdict: model.VerdictClean, EngineVersion: "1.2.0"}}

	store.On("Get", mock.Anything, testLoc()).Return(contentReader(), nil)
	scans.On("Create", mock.Anything, mock.Anything).Return(nil)
	scans.On("MarkScanning", mock.Anything, mock.Anything).Return(nil)

	var gotChange *repository.StatusChange
	var gotEvt *model.OutboxEvent
	scans.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotChange = args.Get(2).(*repository.StatusChange)
			gotEvt = args.Get(3).(*model.OutboxEvent)
		}).
		Return(true, nil)

	o := NewOrchestrator(store, engine, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	scanID, err := o.Submit(context.Background(), testDoc(), 1, testLoc())
	require.NoError(t, err)
	require.NotEmpty(t, scanID)

	res, err := o.AwaitResult(context.Background(), scanID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, model.VerdictClean, res.Verdict)
	assert.Equal(t, "1.2.0", res.ScannerVersion)

	require.NotNil(t, gotChange)
	assert.Equal(t, model.StatusActive, gotChange.To)
	assert.Contains(t, gotChange.From, model.StatusProcessing)
	require.NotNil(t, gotChange.ScanFailed)
	assert.False(t, *gotChange.ScanFailed)
	require.NotNil(t, gotEvt)
	assert.Equal(t, model.EventDocumentScanned, gotEvt.EventType)
	assert.Equal(t, "doc-1", gotEvt.DocumentID)
}

func TestOrchestratorCleanRescanReleasesQuarantine(t *testing.T) {
	store := new(storagemocks.MockBackend)
	scans := new(repomocks.MockScanRepository)
	engine := &stubEngine{report: &Report{Verdict: model.VerdictClean, EngineVersion: "1.2.0"}}

	store.On("Get", mock.Anything, mock.Anything).Return(contentReader(), nil)
	scans.On("Create", mock.Anything, mock.Anything).Return(nil)
	scans.On("MarkScanning", mock.Anything, mock.Anything).Return(nil)

	var gotChange *repository.StatusChange
	scans.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotChange = args.Get(2).(*repository.StatusChange)
		}).
		Return(true, nil)

	o := NewOrchestrator(store, engine, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	quarantined := testDoc()
	quarantined.Status = model.StatusQuarantined

	scanID, err := o.Submit(context.Background(), quarantined, 1, testLoc())
	require.NoError(t, err)

	res, err := o.AwaitResult(context.Background(), scanID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictClean, res.Verdict)

	// The latest completed scan governs status: the guard must accept the
	// quarantined state so the document comes back to active.
	require.NotNil(t, gotChange)
	assert.Equal(t, model.StatusActive, gotChange.To)
	assert.Contains(t, gotChange.From, model.StatusQuarantined)
	require.NotNil(t, gotChange.ScanFailed)
	assert.False(t, *gotChange.ScanFailed)
}

func TestOrchestratorInfectedVerdictQuarantines(t *testing.T) {
	store := new(storagemocks.MockBackend)
	scans := new(repomocks.MockScanRepository)
	engine := &stubEngine{report: &Report{
		Verdict: model.VerdictInfected,
		Threats: []model.ThreatDetail{{Name: "Eicar-Signature", Type: "virus", Severity: model.SeverityHigh}},
	}}

	store.On("Get", mock.Anything, mock.Anything).Return(contentReader(), nil)
	scans.On("Create", mock.Anything, mock.Anything).Return(nil)
	scans.On("MarkScanning", mock.Anything, mock.Anything).Return(nil)

	var gotChange *repository.StatusChange
	scans.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotChange = args.Get(2).(*repository.StatusChange)
		}).
		Return(true, nil)

	o := NewOrchestrator(store, engine, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	scanID, err := o.Submit(context.Background(), testDoc(), 1, testLoc())
	require.NoError(t, err)

	res, err := o.AwaitResult(context.Background(), scanID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, model.VerdictInfected, res.Verdict)
	require.Len(t, res.Threats, 1)
	assert.Equal(t, "Eicar-Signature", res.Threats[0].Name)

	require.NotNil(t, gotChange)
	assert.Equal(t, model.StatusQuarantined, gotChange.To)
	assert.Contains(t, gotChange.From, model.StatusActive)
	require.NotNil(t, gotChange.ScanFailed)
	assert.False(t, *gotChange.ScanFailed)
}

func TestOrchestratorRetriesTransientEngineFailure(t *testing.T) {
	store := new(storagemocks.MockBackend)
	scans := new(repomocks.MockScanRepository)
	engine := &stubEngine{
		failures: 2,
		err:      model.ErrScanEngine,
		report:   &Report{Verdict: model.VerdictClean, EngineVersion: "1.2.0"},
	}

	store.On("Get", mock.Anything, mock.Anything).Return(contentReader(), nil)
	scans.On("Create", mock.Anything, mock.Anything).Return(nil)
	scans.On("MarkScanning", mock.Anything, mock.Anything).Return(nil)
	scans.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	o := NewOrchestrator(store, engine, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	scanID, err := o.Submit(context.Background(), testDoc(), 1, testLoc())
	require.NoError(t, err)

	res, err := o.AwaitResult(context.Background(), scanID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, model.VerdictClean, res.Verdict)
	assert.Equal(t, 3, engine.callCount())
}

func TestOrchestratorExhaustedRetriesFlagDocument(t *testing.T) {
	store := new(storagemocks.MockBackend)
	scans := new(repomocks.MockScanRepository)
	engine := &stubEngine{failures: 10, err: model.ErrScanEngine}

	store.On("Get", mock.Anything, mock.Anything).Return(contentReader(), nil)
	scans.On("Create", mock.Anything, mock.Anything).Return(nil)
	scans.On("MarkScanning", mock.Anything, mock.Anything).Return(nil)

	var gotChange *repository.StatusChange
	scans.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotChange = args.Get(2).(*repository.StatusChange)
		}).
		Return(true, nil)

	o := NewOrchestrator(store, engine, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	scanID, err := o.Submit(context.Background(), testDoc(), 1, testLoc())
	require.NoError(t, err)

	res, err := o.AwaitResult(context.Background(), scanID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.ScanFailed, res.Status)
	assert.Equal(t, model.VerdictError, res.Verdict)

	// MaxRetries 2 means three attempts in total.
	assert.Equal(t, 3, engine.callCount())

	require.NotNil(t, gotChange)
	assert.Equal(t, model.StatusProcessing, gotChange.To)
	require.NotNil(t, gotChange.ScanFailed)
	assert.True(t, *gotChange.ScanFailed)
}

func TestOrchestratorMissingObjectIsNotRetried(t *testing.T) {
	store := new(storagemocks.MockBackend)
	scans := new(repomocks.MockScanRepository)
	engine := &stubEngine{report: &Report{Verdict: model.VerdictClean}}

	store.On("Get", mock.Anything, mock.Anything).Return(nil, model.ErrObjectNotFound)
	scans.On("Create", mock.Anything, mock.Anything).Return(nil)
	scans.On("MarkScanning", mock.Anything, mock.Anything).Return(nil)
	scans.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	o := NewOrchestrator(store, engine, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	scanID, err := o.Submit(context.Background(), testDoc(), 1, testLoc())
	require.NoError(t, err)

	res, err := o.AwaitResult(context.Background(), scanID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.ScanFailed, res.Status)
	assert.Equal(t, 0, engine.callCount())
	store.AssertNumberOfCalls(t, "Get", 1)
}

func TestAwaitResultUnknownScan(t *testing.T) {
	scans := new(repomocks.MockScanRepository)
	scans.On("FindByID", mock.Anything, "nope").Return(nil, sql.ErrNoRows)

	o := NewOrchestrator(new(storagemocks.MockBackend), &stubEngine{}, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	_, err := o.AwaitResult(context.Background(), "nope", time.Second)
	assert.ErrorIs(t, err, model.ErrScanNotFound)
}

func TestAwaitResultFallsBackToStore(t *testing.T) {
	scans := new(repomocks.MockScanRepository)
	done := &model.ScanResult{ScanID: "scan-9", Status: model.ScanCompleted, Verdict: model.VerdictClean}
	scans.On("FindByID", mock.Anything, "scan-9").Return(done, nil)

	o := NewOrchestrator(new(storagemocks.MockBackend), &stubEngine{}, scans, lock.NewKeyed(), testPolicy(), slog.New(slog.DiscardHandler))

	res, err := o.AwaitResult(context.Background(), "scan-9", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
}
