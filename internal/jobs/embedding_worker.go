package jobs

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/kbask/internal/domain"
	"go.uber.org/zap"
)

const (
	// MaxAttempts is how often a chunk is tried before it is left without an embedding.
	MaxAttempts = 3
	// DefaultBatchSize is the number of chunks embedded per round.
	DefaultBatchSize = 64
)

// ChunkEmbeddingRepository hands out chunks that still need an embedding.
type ChunkEmbeddingRepository interface {
	// ClaimUnembedded locks up to limit chunks without an embedding and fewer than
	// maxAttempts tries, counting this round as a try.
	ClaimUnembedded(ctx context.Context, limit, maxAttempts int) ([]domain.KnowledgeBaseChunk, error)
	SetEmbeddings(ctx context.Context, chunks []domain.KnowledgeBaseChunk) error
}

type BatchEmbedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingWorker fills in chunk embeddings after upload.
type EmbeddingWorker struct {
	repo      ChunkEmbeddingRepository
	embedder  BatchEmbedder
	batchSize int
	logger    *zap.Logger
}

func NewEmbeddingWorker(repo ChunkEmbeddingRepository, embedder BatchEmbedder, logger *zap.Logger) *EmbeddingWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingWorker{
		repo:      repo,
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
}

// ProcessJobs embeds one batch of pending chunks. A failed batch stays pending
// until its chunks run out of attempts.
func (w *EmbeddingWorker) ProcessJobs(ctx context.Context) error {
	chunks, err := w.repo.ClaimUnembedded(ctx, w.batchSize, MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to claim chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := w.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(embeddings))
	}

	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}
	if err := w.repo.SetEmbeddings(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store embeddings: %w", err)
	}

	w.logger.Debug("chunks embedded", zap.Int("count", len(chunks)))
	return nil
}
