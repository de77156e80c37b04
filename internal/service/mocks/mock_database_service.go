package mocks

import (
	"context"
	"io"

	"estorage/internal/model"
	"estorage/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockDatabaseService struct {
	mock.Mock
}

func (m *MockDatabaseService) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDatabaseService) Upload(ctx context.Context, name string, r io.Reader) (*model.UploadResult, error) {
	args := m.Called(ctx, name, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UploadResult), args.Error(1)
}

func (m *MockDatabaseService) GetPath(ctx context.Context, name, rel string) (*service.PathResult, error) {
	args := m.Called(ctx, name, rel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PathResult), args.Error(1)
}

func (m *MockDatabaseService) ListUploads(ctx context.Context, db string, limit, offset int) (*service.UploadListResult, error) {
	args := m.Called(ctx, db, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UploadListResult), args.Error(1)
}

func (m *MockDatabaseService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
