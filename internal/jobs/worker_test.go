package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) ClaimUnembedded(ctx context.Context, limit, maxAttempts int) ([]domain.KnowledgeBaseChunk, error) {
	args := m.Called(ctx, limit, maxAttempts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.KnowledgeBaseChunk), args.Error(1)
}

func (m *MockChunkRepository) SetEmbeddings(ctx context.Context, chunks []domain.KnowledgeBaseChunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 10*time.Millisecond, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(context.Background())
	}()

	assert.Eventually(t, func() bool {
		return len(mockProcessor.Calls) > 0
	}, time.Second, 5*time.Millisecond)

	worker.Stop()
	wg.Wait()
}

func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(errors.New("round failed")).Maybe()

	worker := NewWorker(mockProcessor, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

type countingProcessor struct {
	mu     sync.Mutex
	rounds int
}

func (c *countingProcessor) ProcessJobs(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds++
	return nil
}

func (c *countingProcessor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rounds
}

func TestWorker_WakeRunsEarlyRound(t *testing.T) {
	processor := &countingProcessor{}
	worker := NewWorker(processor, time.Hour, nil)
	go worker.Start(context.Background())
	defer worker.Stop()

	require.Eventually(t, func() bool { return processor.count() == 1 }, time.Second, 5*time.Millisecond)

	worker.Wake()
	assert.Eventually(t, func() bool { return processor.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	worker := NewWorker(&countingProcessor{}, time.Hour, nil)
	go worker.Start(context.Background())

	worker.Stop()
	worker.Stop()
}

func TestEmbeddingWorker_EmbedsClaimedChunks(t *testing.T) {
	repo := new(MockChunkRepository)
	embedder := new(MockEmbedder)
	worker := NewEmbeddingWorker(repo, embedder, nil)

	claimed := []domain.KnowledgeBaseChunk{
		{ID: 1, KnowledgeBaseID: 7, ChunkIndex: 0, Content: "first"},
		{ID: 2, KnowledgeBaseID: 7, ChunkIndex: 1, Content: "second"},
	}
	repo.On("ClaimUnembedded", mock.Anything, DefaultBatchSize, MaxAttempts).Return(claimed, nil)
	embedder.On("GenerateEmbeddings", mock.Anything, []string{"first", "second"}).
		Return([][]float32{{0.1}, {0.2}}, nil)

	var stored []domain.KnowledgeBaseChunk
	repo.On("SetEmbeddings", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).([]domain.KnowledgeBaseChunk) }).
		Return(nil)

	require.NoError(t, worker.ProcessJobs(context.Background()))

	require.Len(t, stored, 2)
	assert.Equal(t, []float32{0.1}, stored[0].Embedding)
	assert.Equal(t, []float32{0.2}, stored[1].Embedding)
	repo.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestEmbeddingWorker_NothingPending(t *testing.T) {
	repo := new(MockChunkRepository)
	embedder := new(MockEmbedder)
	worker := NewEmbeddingWorker(repo, embedder, nil)

	repo.On("ClaimUnembedded", mock.Anything, DefaultBatchSize, MaxAttempts).Return([]domain.KnowledgeBaseChunk{}, nil)

	require.NoError(t, worker.ProcessJobs(context.Background()))
	embedder.AssertNotCalled(t, "GenerateEmbeddings", mock.Anything, mock.Anything)
}

func TestEmbeddingWorker_EmbedFailureLeavesChunksPending(t *testing.T) {
	repo := new(MockChunkRepository)
	embedder := new(MockEmbedder)
	worker := NewEmbeddingWorker(repo, embedder, nil)

	repo.On("ClaimUnembedded", mock.Anything, DefaultBatchSize, MaxAttempts).
		Return([]domain.KnowledgeBaseChunk{{ID: 1, Content: "x"}}, nil)
	embedder.On("GenerateEmbeddings", mock.Anything, []string{"x"}).Return(nil, errors.New("rate limited"))

	err := worker.ProcessJobs(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	repo.AssertNotCalled(t, "SetEmbeddings", mock.Anything, mock.Anything)
}

func TestEmbeddingWorker_ClaimFailure(t *testing.T) {
	repo := new(MockChunkRepository)
	worker := NewEmbeddingWorker(repo, new(MockEmbedder), nil)

	repo.On("ClaimUnembedded", mock.Anything, DefaultBatchSize, MaxAttempts).Return(nil, errors.New("db down"))

	err := worker.ProcessJobs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim chunks")
}
