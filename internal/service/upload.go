package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/extract"
	"github.com/cloo-solutions/kbask/internal/storage"
	"github.com/cloo-solutions/kbask/internal/telemetry"
	"go.uber.org/zap"
)

// ErrDuplicateContent is returned by KnowledgeBaseRepository.Create when another
// record already holds the same content hash.
var ErrDuplicateContent = errors.New("duplicate content hash")

type UploadInput struct {
	Filename string
	Data     []byte
	Name     string
}

// Upload stores a document as a knowledge base. Identical bytes resolve to the
// existing knowledge base with Duplicate set; a stored object left behind by an
// earlier upload is reused the same way.
func (s *KnowledgeBaseService) Upload(ctx context.Context, input UploadInput) (*domain.UploadResult, error) {
	filename := filepath.Base(strings.TrimSpace(input.Filename))
	if filename == "" || filename == "." {
		return nil, domain.ErrFileRequired
	}
	if !domain.IsAcceptedFilename(filename) {
		return nil, domain.ErrUnsupportedFileType
	}
	if len(input.Data) == 0 {
		return nil, domain.ErrEmptyFile
	}
	if int64(len(input.Data)) > s.cfg.MaxUploadBytes {
		return nil, domain.ErrFileTooLarge
	}

	ctx, span := telemetry.StartSpan(ctx, "knowledgebase.upload", telemetry.SpanAttributes{
		Filename:  filename,
		Operation: "upload",
	})
	defer span.End()

	sum := sha256.Sum256(input.Data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.repo.FindByContentHash(ctx, hash)
	switch {
	case err == nil:
		s.logger.Info("upload matched existing content", zap.Int64("id", existing.ID), zap.String("filename", filename))
		return s.result(ctx, existing, true), nil
	case !errors.Is(err, domain.ErrKnowledgeBaseNotFound):
		span.SetError(err)
		return nil, err
	}

	content, err := s.extractor.Extract(filename, input.Data)
	if err != nil {
		s.logger.Warn("extraction failed", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}
	if content == "" {
		return nil, domain.ErrNoTextExtracted
	}

	contentType := extract.DetectContentType(filename, input.Data)
	key, reused, err := s.storeObject(ctx, hash, filename, input.Data, contentType)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = domain.DefaultName(filename)
	}

	now := s.now()
	kb := &domain.StoredKnowledgeBase{
		Name:             name,
		OriginalFilename: filename,
		FileSize:         int64(len(input.Data)),
		ContentType:      contentType,
		ContentHash:      hash,
		StorageKey:       key,
		Content:          content,
		UploadedAt:       now,
		LastAccessedAt:   now,
	}

	texts := chunkText(content, s.cfg.Chunking)
	chunks := make([]domain.KnowledgeBaseChunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.KnowledgeBaseChunk{ChunkIndex: i, Content: text, CreatedAt: now}
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.KnowledgeBases().Create(ctx, kb); err != nil {
			return err
		}
		return repos.Chunks().ReplaceChunks(ctx, kb.ID, chunks)
	})
	if errors.Is(err, ErrDuplicateContent) {
		winner, findErr := s.repo.FindByContentHash(ctx, hash)
		if findErr != nil {
			return nil, findErr
		}
		return s.result(ctx, winner, true), nil
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s.invalidateList()
	if s.onIndexed != nil && len(chunks) > 0 {
		s.onIndexed()
	}
	s.logger.Info("knowledge base uploaded",
		zap.Int64("id", kb.ID),
		zap.String("name", kb.Name),
		zap.Int64("size", kb.FileSize),
		zap.Int("chunks", len(chunks)),
		zap.Bool("storage_reused", reused))

	return s.result(ctx, kb, reused), nil
}

// storeObject writes data under its content-addressed key unless the object is
// already there. Without an object store nothing is kept.
func (s *KnowledgeBaseService) storeObject(ctx context.Context, hash, filename string, data []byte, contentType string) (string, bool, error) {
	if s.store == nil {
		return "", false, nil
	}

	key := storage.ObjectKey(hash, filename)
	exists, err := s.store.ObjectExists(ctx, key)
	if err != nil {
		s.logger.Warn("failed to check stored file, uploading again", zap.String("key", key), zap.Error(err))
	}
	if exists {
		return key, true, nil
	}

	if err := s.store.PutObject(ctx, key, data, contentType); err != nil {
		return "", false, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError,
			domain.ErrStorageOperationFail.Message, err)
	}
	return key, false, nil
}

func (s *KnowledgeBaseService) result(ctx context.Context, kb *domain.StoredKnowledgeBase, duplicate bool) *domain.UploadResult {
	ref := domain.StorageRef{FileKey: kb.StorageKey}
	if s.store != nil && kb.StorageKey != "" {
		url, err := s.store.GenerateDownloadURL(ctx, kb.StorageKey)
		if err != nil {
			s.logger.Warn("failed to presign download url", zap.String("key", kb.StorageKey), zap.Error(err))
		}
		ref.FileURL = url
	}

	return &domain.UploadResult{
		KnowledgeBase: domain.KnowledgeBaseSummary{
			ID:            kb.ID,
			Name:          kb.Name,
			FileSize:      kb.FileSize,
			ContentLength: kb.ContentLength(),
		},
		Storage:   ref,
		Duplicate: duplicate,
	}
}
