package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence of chunked knowledge base text and embeddings.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes existing chunks for a knowledge base and inserts new ones.
// Embeddings are left empty for the embedding worker to fill in.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, knowledgeBaseID int64, chunks []domain.KnowledgeBaseChunk) error {
	if err := r.DeleteByKnowledgeBase(ctx, knowledgeBaseID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO knowledge_base_chunks (knowledge_base_id, chunk_index, content, created_at)
			 VALUES ($1, $2, $3, $4)`,
			knowledgeBaseID, c.ChunkIndex, c.Content, createdAt,
		)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

func (r *ChunkRepository) DeleteByKnowledgeBase(ctx context.Context, knowledgeBaseID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM knowledge_base_chunks WHERE knowledge_base_id = $1`, knowledgeBaseID)
	return err
}

// SearchSemantic ranks embedded chunks by cosine similarity to embedding.
func (r *ChunkRepository) SearchSemantic(ctx context.Context, embedding []float32, knowledgeBaseIDs []int64, limit int) ([]domain.ScoredChunk, error) {
	if len(embedding) == 0 || len(knowledgeBaseIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT knowledge_base_id, chunk_index, content, 1 - (embedding <=> $1) AS score
		 FROM knowledge_base_chunks
		 WHERE knowledge_base_id = ANY($2) AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1, knowledge_base_id, chunk_index
		 LIMIT $3`,
		pgvector.NewVector(embedding), knowledgeBaseIDs, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectScoredChunks(rows)
}

// SearchLexical ranks chunks matching any term of query with Postgres full text search.
func (r *ChunkRepository) SearchLexical(ctx context.Context, query string, knowledgeBaseIDs []int64, limit int) ([]domain.ScoredChunk, error) {
	if query == "" || len(knowledgeBaseIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`WITH q AS (
			 SELECT replace(plainto_tsquery('simple', $1)::text, '&', '|')::tsquery AS query
		 )
		 SELECT c.knowledge_base_id, c.chunk_index, c.content,
		        ts_rank_cd(to_tsvector('simple', c.content), q.query)::float8 AS score
		 FROM knowledge_base_chunks c, q
		 WHERE c.knowledge_base_id = ANY($2)
		   AND to_tsvector('simple', c.content) @@ q.query
		 ORDER BY score DESC, c.knowledge_base_id, c.chunk_index
		 LIMIT $3`,
		query, knowledgeBaseIDs, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectScoredChunks(rows)
}

// LeadingChunks returns the first perKnowledgeBase chunks of each knowledge base,
// in the order the ids were given.
func (r *ChunkRepository) LeadingChunks(ctx context.Context, knowledgeBaseIDs []int64, perKnowledgeBase int) ([]domain.ScoredChunk, error) {
	if len(knowledgeBaseIDs) == 0 || perKnowledgeBase <= 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT knowledge_base_id, chunk_index, content, 0::float8 AS score
		 FROM knowledge_base_chunks
		 WHERE knowledge_base_id = ANY($1) AND chunk_index < $2
		 ORDER BY array_position($1::bigint[], knowledge_base_id), chunk_index`,
		knowledgeBaseIDs, perKnowledgeBase,
	)
	if err != nil {
		return nil, err
	}
	return collectScoredChunks(rows)
}

// ClaimUnembedded locks up to limit chunks that still lack an embedding and have been
// tried fewer than maxAttempts times, and counts this claim as an attempt.
func (r *ChunkRepository) ClaimUnembedded(ctx context.Context, limit, maxAttempts int) ([]domain.KnowledgeBaseChunk, error) {
	if limit <= 0 {
		limit = 64
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM knowledge_base_chunks
			 WHERE embedding IS NULL AND embedding_attempts < $2
			 ORDER BY created_at ASC, id ASC
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED
		 )
		 UPDATE knowledge_base_chunks c
		 SET embedding_attempts = c.embedding_attempts + 1
		 FROM cte
		 WHERE c.id = cte.id
		 RETURNING c.id, c.knowledge_base_id, c.chunk_index, c.content, c.created_at`,
		limit, maxAttempts,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.KnowledgeBaseChunk
	for rows.Next() {
		var c domain.KnowledgeBaseChunk
		if err := rows.Scan(&c.ID, &c.KnowledgeBaseID, &c.ChunkIndex, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SetEmbeddings stores the embedding of each chunk by chunk id.
func (r *ChunkRepository) SetEmbeddings(ctx context.Context, chunks []domain.KnowledgeBaseChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`UPDATE knowledge_base_chunks SET embedding = $1 WHERE id = $2`,
			pgvector.NewVector(c.Embedding), c.ID)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

func collectScoredChunks(rows pgx.Rows) ([]domain.ScoredChunk, error) {
	defer rows.Close()

	var results []domain.ScoredChunk
	for rows.Next() {
		var c domain.ScoredChunk
		if err := rows.Scan(&c.KnowledgeBaseID, &c.ChunkIndex, &c.Content, &c.Score); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
