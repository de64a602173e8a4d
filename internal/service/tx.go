package service

import "context"

// TxRepositories are repositories bound to one open transaction.
type TxRepositories interface {
	KnowledgeBases() KnowledgeBaseRepository
	Chunks() ChunkRepository
}

// TxFunc runs inside a transaction. Returning an error rolls it back.
type TxFunc func(repos TxRepositories) error

// TxRunner commits fn's writes together: a knowledge base row is never visible
// without its chunks.
type TxRunner interface {
	WithTx(ctx context.Context, fn TxFunc) error
}
