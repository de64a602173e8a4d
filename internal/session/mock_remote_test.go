package session

import (
	"context"
	"io"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) ListKnowledgeBases(ctx context.Context) ([]domain.KnowledgeBase, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.KnowledgeBase), args.Error(1)
}

func (m *MockRemote) UploadKnowledgeBase(ctx context.Context, filename string, content io.Reader, name string) (*domain.UploadResult, error) {
	args := m.Called(ctx, filename, content, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UploadResult), args.Error(1)
}

func (m *MockRemote) DeleteKnowledgeBase(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRemote) QueryKnowledgeBase(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueryResponse), args.Error(1)
}
