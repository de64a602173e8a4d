package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockKnowledgeBaseRepository struct {
	mock.Mock
}

func (m *MockKnowledgeBaseRepository) Create(ctx context.Context, kb *domain.StoredKnowledgeBase) error {
	args := m.Called(ctx, kb)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepository) GetByID(ctx context.Context, id int64) (*domain.StoredKnowledgeBase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StoredKnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepository) GetByIDs(ctx context.Context, ids []int64) ([]*domain.StoredKnowledgeBase, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.StoredKnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepository) FindByContentHash(ctx context.Context, hash string) (*domain.StoredKnowledgeBase, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StoredKnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepository) List(ctx context.Context) ([]*domain.StoredKnowledgeBase, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.StoredKnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepository) RecordQuery(ctx context.Context, ids []int64, at time.Time) error {
	args := m.Called(ctx, ids, at)
	return args.Error(0)
}

type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) ReplaceChunks(ctx context.Context, knowledgeBaseID int64, chunks []domain.KnowledgeBaseChunk) error {
	args := m.Called(ctx, knowledgeBaseID, chunks)
	return args.Error(0)
}

func (m *MockChunkRepository) DeleteByKnowledgeBase(ctx context.Context, knowledgeBaseID int64) error {
	args := m.Called(ctx, knowledgeBaseID)
	return args.Error(0)
}

func (m *MockChunkRepository) SearchSemantic(ctx context.Context, embedding []float32, ids []int64, limit int) ([]domain.ScoredChunk, error) {
	args := m.Called(ctx, embedding, ids, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredChunk), args.Error(1)
}

func (m *MockChunkRepository) SearchLexical(ctx context.Context, query string, ids []int64, limit int) ([]domain.ScoredChunk, error) {
	args := m.Called(ctx, query, ids, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredChunk), args.Error(1)
}

func (m *MockChunkRepository) LeadingChunks(ctx context.Context, ids []int64, perKnowledgeBase int) ([]domain.ScoredChunk, error) {
	args := m.Called(ctx, ids, perKnowledgeBase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredChunk), args.Error(1)
}

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockObjectStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectStore) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStore) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockAnswerer struct {
	mock.Mock
}

func (m *MockAnswerer) Answer(ctx context.Context, question string, excerpts []string) (string, error) {
	args := m.Called(ctx, question, excerpts)
	return args.String(0), args.Error(1)
}

// fakeTxRunner runs the callback against the non-transactional mocks.
type fakeTxRunner struct {
	repo   *MockKnowledgeBaseRepository
	chunks *MockChunkRepository
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn TxFunc) error {
	return fn(f)
}

func (f *fakeTxRunner) KnowledgeBases() KnowledgeBaseRepository { return f.repo }

func (f *fakeTxRunner) Chunks() ChunkRepository { return f.chunks }
