package domain

import "time"

// KnowledgeBaseChunk is a chunked segment of a knowledge base's extracted text.
type KnowledgeBaseChunk struct {
	ID              int64
	KnowledgeBaseID int64
	ChunkIndex      int
	Content         string
	Embedding       []float32
	CreatedAt       time.Time
}

// ScoredChunk is a chunk returned by retrieval together with its similarity score.
type ScoredChunk struct {
	KnowledgeBaseID int64
	ChunkIndex      int
	Content         string
	Score           float64
}
