package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"docvault/internal/model"
	"docvault/internal/repository"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) CreateVersion(ctx context.Context, doc *model.Document, rec *model.VersionRecord, evt *model.OutboxEvent) (*model.Document, error) {
	args := m.Called(ctx, doc, rec, evt)
	if f, ok := args.Get(0).(func(*model.Document, *model.VersionRecord) *model.Document); ok {
		return f(doc, rec), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) FindByID(ctx context.Context, tenantID, documentID string) (*model.Document, error) {
	args := m.Called(ctx, tenantID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) UpdateStatus(ctx context.Context, change repository.StatusChange, evt *model.OutboxEvent) (bool, error) {
	args := m.Called(ctx, change, evt)
	return args.Bool(0), args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context, tenantID string, f repository.ListFilter, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	args := m.Called(ctx, tenantID, f, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Document]), args.Error(1)
}

func (m *MockDocumentRepository) ListVersions(ctx context.Context, tenantID, documentID string) ([]model.VersionRecord, error) {
	args := m.Called(ctx, tenantID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.VersionRecord), args.Error(1)
}

func (m *MockDocumentRepository) LatestVersion(ctx context.Context, documentID string) (*model.VersionRecord, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.VersionRecord), args.Error(1)
}

type MockScanRepository struct {
	mock.Mock
}

func (m *MockScanRepository) Create(ctx context.Context, res *model.ScanResult) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *MockScanRepository) MarkScanning(ctx context.Context, scanID string) error {
	args := m.Called(ctx, scanID)
	return args.Error(0)
}

func (m *MockScanRepository) Finalize(ctx context.Context, res *model.ScanResult, change *repository.StatusChange, evt *model.OutboxEvent) (bool, error) {
	args := m.Called(ctx, res, change, evt)
	return args.Bool(0), args.Error(1)
}

func (m *MockScanRepository) FindByID(ctx context.Context, scanID string) (*model.ScanResult, error) {
	args := m.Called(ctx, scanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanResult), args.Error(1)
}

func (m *MockScanRepository) LatestCompleted(ctx context.Context, documentID string) (*model.ScanResult, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanResult), args.Error(1)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]model.OutboxEvent, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) Delete(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockOutboxRepository) Reschedule(ctx context.Context, eventID string, attempts int, next time.Time) error {
	args := m.Called(ctx, eventID, attempts, next)
	return args.Error(0)
}
