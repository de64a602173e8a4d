package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/telemetry"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// KnowledgeBaseRepository persists knowledge base records.
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, kb *domain.StoredKnowledgeBase) error
	GetByID(ctx context.Context, id int64) (*domain.StoredKnowledgeBase, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*domain.StoredKnowledgeBase, error)
	FindByContentHash(ctx context.Context, hash string) (*domain.StoredKnowledgeBase, error)
	List(ctx context.Context) ([]*domain.StoredKnowledgeBase, error)
	Delete(ctx context.Context, id int64) error
	RecordQuery(ctx context.Context, ids []int64, at time.Time) error
}

// ChunkRepository persists chunked text and embeddings.
type ChunkRepository interface {
	ReplaceChunks(ctx context.Context, knowledgeBaseID int64, chunks []domain.KnowledgeBaseChunk) error
	DeleteByKnowledgeBase(ctx context.Context, knowledgeBaseID int64) error
	SearchSemantic(ctx context.Context, embedding []float32, knowledgeBaseIDs []int64, limit int) ([]domain.ScoredChunk, error)
	SearchLexical(ctx context.Context, query string, knowledgeBaseIDs []int64, limit int) ([]domain.ScoredChunk, error)
	LeadingChunks(ctx context.Context, knowledgeBaseIDs []int64, perKnowledgeBase int) ([]domain.ScoredChunk, error)
}

// ObjectStore keeps the original uploaded files.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

type TextExtractor interface {
	Extract(filename string, data []byte) (string, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, excerpts []string) (string, error)
}

const listCacheKey = "knowledge_bases"

// Config tunes the knowledge base service. Zero values pick defaults.
type Config struct {
	MaxUploadBytes int64
	TopK           int
	Chunking       ChunkConfig
	ListCacheTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = domain.DefaultMaxUploadBytes
	}
	if c.TopK <= 0 {
		c.TopK = 6
	}
	if c.Chunking.MaxChars <= 0 {
		c.Chunking = DefaultChunkConfig()
	}
	if c.ListCacheTTL <= 0 {
		c.ListCacheTTL = 30 * time.Second
	}
	return c
}

// KnowledgeBaseService implements upload, listing, deletion and question answering.
// The object store, embedder and answerer are optional.
type KnowledgeBaseService struct {
	repo      KnowledgeBaseRepository
	chunks    ChunkRepository
	tx        TxRunner
	store     ObjectStore
	extractor TextExtractor
	embedder  Embedder
	answerer  Answerer
	onIndexed func()
	cache     *cache.Cache
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

type Dependencies struct {
	Repo      KnowledgeBaseRepository
	Chunks    ChunkRepository
	Tx        TxRunner
	Store     ObjectStore
	Extractor TextExtractor
	Embedder  Embedder
	Answerer  Answerer
	// OnIndexed is called after a new document's chunks are stored.
	OnIndexed func()
	Logger    *zap.Logger
}

func NewKnowledgeBaseService(deps Dependencies, cfg Config) *KnowledgeBaseService {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeBaseService{
		repo:      deps.Repo,
		chunks:    deps.Chunks,
		tx:        deps.Tx,
		store:     deps.Store,
		extractor: deps.Extractor,
		embedder:  deps.Embedder,
		answerer:  deps.Answerer,
		onIndexed: deps.OnIndexed,
		cache:     cache.New(cfg.ListCacheTTL, 2*cfg.ListCacheTTL),
		cfg:       cfg,
		logger:    logger.Named("knowledgebase"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns every knowledge base, newest upload first.
func (s *KnowledgeBaseService) List(ctx context.Context) ([]domain.KnowledgeBase, error) {
	if cached, ok := s.cache.Get(listCacheKey); ok {
		return cached.([]domain.KnowledgeBase), nil
	}

	ctx, span := telemetry.StartSpan(ctx, "knowledgebase.list", telemetry.SpanAttributes{Operation: "list"})
	defer span.End()

	stored, err := s.repo.List(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	out := make([]domain.KnowledgeBase, 0, len(stored))
	for _, kb := range stored {
		out = append(out, kb.Listing())
	}
	s.cache.SetDefault(listCacheKey, out)
	return out, nil
}

func (s *KnowledgeBaseService) Get(ctx context.Context, id int64) (*domain.KnowledgeBase, error) {
	kb, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	listing := kb.Listing()
	return &listing, nil
}

// Delete removes the chunks and the record in one transaction, then the stored file.
// A failed transaction leaves the knowledge base intact; a file that cannot be
// removed afterwards is logged.
func (s *KnowledgeBaseService) Delete(ctx context.Context, id int64) error {
	ctx, span := telemetry.StartSpan(ctx, "knowledgebase.delete", telemetry.SpanAttributes{
		KnowledgeBaseIDs: []int64{id},
		Operation:        "delete",
	})
	defer span.End()

	kb, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().DeleteByKnowledgeBase(ctx, id); err != nil {
			return err
		}
		return repos.KnowledgeBases().Delete(ctx, id)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrKnowledgeBaseNotFound) {
			span.SetError(err)
		}
		return err
	}

	// The record is gone; a file left behind is only logged.
	if s.store != nil && kb.StorageKey != "" {
		if err := s.store.DeleteObject(ctx, kb.StorageKey); err != nil {
			s.logger.Warn("failed to delete stored file",
				zap.Int64("id", id), zap.String("key", kb.StorageKey), zap.Error(err))
			telemetry.CaptureError(ctx, err)
		}
	}

	s.cache.Delete(listCacheKey)
	s.logger.Info("knowledge base deleted", zap.Int64("id", id), zap.String("name", kb.Name))
	return nil
}

func (s *KnowledgeBaseService) invalidateList() {
	s.cache.Delete(listCacheKey)
}
