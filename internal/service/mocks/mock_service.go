package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Upload(ctx context.Context, req service.UploadRequest) (*model.Document, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, tenantID, documentID string, includeContent, admin bool) (*model.Document, io.ReadCloser, error) {
	args := m.Called(ctx, tenantID, documentID, includeContent, admin)
	doc, _ := args.Get(0).(*model.Document)
	rc, _ := args.Get(1).(io.ReadCloser)
	return doc, rc, args.Error(2)
}

func (m *MockDocumentService) List(ctx context.Context, tenantID string, f repository.ListFilter, pq repository.PageQuery) (*service.ListResult, error) {
	args := m.Called(ctx, tenantID, f, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListResult), args.Error(1)
}

func (m *MockDocumentService) ListVersions(ctx context.Context, tenantID, documentID string) ([]model.VersionRecord, error) {
	args := m.Called(ctx, tenantID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.VersionRecord), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, tenantID, documentID string) error {
	args := m.Called(ctx, tenantID, documentID)
	return args.Error(0)
}

func (m *MockDocumentService) TriggerScan(ctx context.Context, tenantID, documentID string) (string, error) {
	args := m.Called(ctx, tenantID, documentID)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentService) AwaitScan(ctx context.Context, scanID string) (*model.ScanResult, error) {
	args := m.Called(ctx, scanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanResult), args.Error(1)
}

func (m *MockDocumentService) LatestScan(ctx context.Context, tenantID, documentID string) (*model.ScanResult, error) {
	args := m.Called(ctx, tenantID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScanResult), args.Error(1)
}
