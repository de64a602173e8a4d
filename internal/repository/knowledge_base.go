package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type KnowledgeBaseRepository struct {
	db dbtx
}

func NewKnowledgeBaseRepository(pool *pgxpool.Pool) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: pool}
}

func NewKnowledgeBaseRepositoryWithTx(tx pgx.Tx) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: tx}
}

const knowledgeBaseColumns = `id, name, original_filename, file_size, content_type, content_hash, storage_key,
	content_length, uploaded_at, last_accessed_at, access_count, question_count`

// Create inserts kb and sets its ID. A second record with the same content hash
// yields service.ErrDuplicateContent.
func (r *KnowledgeBaseRepository) Create(ctx context.Context, kb *domain.StoredKnowledgeBase) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO knowledge_bases
			(name, original_filename, file_size, content_type, content_hash, storage_key, content, content_length,
			 uploaded_at, last_accessed_at, access_count, question_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		kb.Name, kb.OriginalFilename, kb.FileSize, kb.ContentType, kb.ContentHash, nullableString(kb.StorageKey),
		kb.Content, kb.ContentLength(), kb.UploadedAt, kb.LastAccessedAt, kb.AccessCount, kb.QuestionCount,
	).Scan(&kb.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return service.ErrDuplicateContent
		}
		return err
	}
	kb.ContentChars = kb.ContentLength()
	return nil
}

func (r *KnowledgeBaseRepository) GetByID(ctx context.Context, id int64) (*domain.StoredKnowledgeBase, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+knowledgeBaseColumns+` FROM knowledge_bases WHERE id = $1`, id)
	return scanKnowledgeBase(row)
}

// GetByIDs returns the records that exist among ids, in id order.
func (r *KnowledgeBaseRepository) GetByIDs(ctx context.Context, ids []int64) ([]*domain.StoredKnowledgeBase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+knowledgeBaseColumns+` FROM knowledge_bases WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return collectKnowledgeBases(rows)
}

func (r *KnowledgeBaseRepository) FindByContentHash(ctx context.Context, hash string) (*domain.StoredKnowledgeBase, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+knowledgeBaseColumns+` FROM knowledge_bases WHERE content_hash = $1`, hash)
	return scanKnowledgeBase(row)
}

// List returns every record without its extracted text, newest first.
func (r *KnowledgeBaseRepository) List(ctx context.Context) ([]*domain.StoredKnowledgeBase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+knowledgeBaseColumns+` FROM knowledge_bases ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return collectKnowledgeBases(rows)
}

func (r *KnowledgeBaseRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}

// RecordQuery counts one question and one access against each id.
func (r *KnowledgeBaseRepository) RecordQuery(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE knowledge_bases
		 SET access_count = access_count + 1,
		     question_count = question_count + 1,
		     last_accessed_at = $2
		 WHERE id = ANY($1)`,
		ids, at,
	)
	return err
}

func scanKnowledgeBase(row pgx.Row) (*domain.StoredKnowledgeBase, error) {
	var kb domain.StoredKnowledgeBase
	var storageKey pgtype.Text
	err := row.Scan(&kb.ID, &kb.Name, &kb.OriginalFilename, &kb.FileSize, &kb.ContentType, &kb.ContentHash,
		&storageKey, &kb.ContentChars, &kb.UploadedAt, &kb.LastAccessedAt, &kb.AccessCount, &kb.QuestionCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeBaseNotFound
		}
		return nil, err
	}
	if storageKey.Valid {
		kb.StorageKey = storageKey.String
	}
	return &kb, nil
}

func collectKnowledgeBases(rows pgx.Rows) ([]*domain.StoredKnowledgeBase, error) {
	defer rows.Close()

	var results []*domain.StoredKnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, kb)
	}
	return results, rows.Err()
}
