package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/model"
	"docvault/internal/repository"
)

func newScanRepo(t *testing.T) (*ScanPostgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewScanPostgres(NewStore(db)), mock
}

func completedResult() *model.ScanResult {
	return &model.ScanResult{
		ScanID:         "scan-1",
		DocumentID:     "doc-1",
		Version:        1,
		Status:         model.ScanCompleted,
		Verdict:        model.VerdictClean,
		Threats:        []model.ThreatDetail{},
		ScannerVersion: "1.2.0",
		ScannedAt:      time.Now().UTC(),
		DurationMS:     42,
	}
}

func TestScanCreatePending(t *testing.T) {
	repo, mock := newScanRepo(t)

	mock.ExpectExec("INSERT INTO scan_results").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &model.ScanResult{
		ScanID: "scan-1", DocumentID: "doc-1", Version: 1, Status: model.ScanPending,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeExactlyOnce(t *testing.T) {
	repo, mock := newScanRepo(t)

	change := &repository.StatusChange{
		TenantID:   "tenant-1",
		DocumentID: "doc-1",
		From:       []model.DocumentStatus{model.StatusProcessing},
		To:         model.StatusActive,
	}
	evt := &model.OutboxEvent{
		EventID: "evt-1", EventType: model.EventDocumentScanned,
		DocumentID: "doc-1", TenantID: "tenant-1", Version: 1,
		Payload: []byte(`{}`), CreatedAt: time.Now().UTC(),
	}

	t.Run("first finalize applies transition and event", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE scan_results").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE documents SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO outbox_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		applied, err := repo.Finalize(context.Background(), completedResult(), change, evt)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("second finalize is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE scan_results").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		applied, err := repo.Finalize(context.Background(), completedResult(), change, evt)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanFindByID(t *testing.T) {
	repo, mock := newScanRepo(t)
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"scan_id", "document_id", "version", "status", "result",
			"threats", "scanner_version", "duration_ms", "scanned_at",
		}).AddRow("scan-1", "doc-1", 1, "completed", "infected",
			[]byte(`[{"name":"Eicar-Signature","type":"virus","severity":"high"}]`), "1.2.0", 42, now)

		mock.ExpectQuery("SELECT (.+) FROM scan_results").
			WithArgs("scan-1").
			WillReturnRows(rows)

		res, err := repo.FindByID(context.Background(), "scan-1")
		require.NoError(t, err)
		assert.Equal(t, model.VerdictInfected, res.Verdict)
		require.Len(t, res.Threats, 1)
		assert.Equal(t, "Eicar-Signature", res.Threats[0].Name)
	})

	t.Run("pending scan has null verdict", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"scan_id", "document_id", "version", "status", "result",
			"threats", "scanner_version", "duration_ms", "scanned_at",
		}).AddRow("scan-2", "doc-1", 1, "pending", nil, []byte(`[]`), "", 0, nil)

		mock.ExpectQuery("SELECT (.+) FROM scan_results").
			WithArgs("scan-2").
			WillReturnRows(rows)

		res, err := repo.FindByID(context.Background(), "scan-2")
		require.NoError(t, err)
		assert.Equal(t, model.ScanPending, res.Status)
		assert.Empty(t, res.Verdict)
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM scan_results").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.FindByID(context.Background(), "nope")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}
