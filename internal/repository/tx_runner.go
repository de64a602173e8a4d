package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/kbask/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner opens read-committed transactions on the pool.
type TxRunner struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// WithTx runs fn in a transaction. Errors from fn are returned unwrapped so callers
// can match sentinels such as service.ErrDuplicateContent.
func (r *TxRunner) WithTx(ctx context.Context, fn service.TxFunc) error {
	var fnErr error
	err := pgx.BeginTxFunc(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		fnErr = fn(txScope{tx: tx})
		return fnErr
	})
	if err == nil || fnErr != nil {
		return err
	}
	return fmt.Errorf("knowledge base transaction: %w", err)
}

type txScope struct {
	tx pgx.Tx
}

func (s txScope) KnowledgeBases() service.KnowledgeBaseRepository {
	return NewKnowledgeBaseRepositoryWithTx(s.tx)
}

func (s txScope) Chunks() service.ChunkRepository {
	return NewChunkRepositoryWithTx(s.tx)
}
