package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"docvault/internal/model"
	"docvault/internal/storage"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Put(ctx context.Context, in storage.PutInput) (model.StorageLocation, error) {
	args := m.Called(ctx, in)
	if f, ok := args.Get(0).(func(context.Context, storage.PutInput) model.StorageLocation); ok {
		return f(ctx, in), args.Error(1)
	}
	return args.Get(0).(model.StorageLocation), args.Error(1)
}

func (m *MockBackend) Get(ctx context.Context, loc model.StorageLocation) (io.ReadCloser, error) {
	args := m.Called(ctx, loc)
	if f, ok := args.Get(0).(func() io.ReadCloser); ok {
		return f(), args.Error(1)
	}
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockBackend) Delete(ctx context.Context, loc model.StorageLocation) error {
	args := m.Called(ctx, loc)
	return args.Error(0)
}

func (m *MockBackend) Exists(ctx context.Context, loc model.StorageLocation) (bool, error) {
	args := m.Called(ctx, loc)
	return args.Bool(0), args.Error(1)
}
