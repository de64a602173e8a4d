package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/telemetry"
	"go.uber.org/zap"
)

const (
	noContextAnswer = "The selected knowledge bases do not contain any text to answer from."
	excerptAnswers  = 3
	excerptMaxChars = 600
)

// Query answers a question over the given knowledge bases. The answer is attributed
// to the knowledge base owning the best ranked chunk, or to the first requested one
// when nothing was retrieved. Every queried knowledge base gets its access and
// question counters bumped.
func (s *KnowledgeBaseService) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	ids := uniqueIDs(req.KnowledgeBaseIDs)
	if len(ids) == 0 {
		return nil, domain.ErrNoKnowledgeBases
	}

	ctx, span := telemetry.StartSpan(ctx, "knowledgebase.query", telemetry.SpanAttributes{
		KnowledgeBaseIDs: ids,
		Operation:        "query",
	})
	defer span.End()

	kbs, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	names := make(map[int64]string, len(kbs))
	for _, kb := range kbs {
		names[kb.ID] = kb.Name
	}
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			return nil, domain.ErrKnowledgeBaseNotFound
		}
	}

	chunks, err := s.retrieve(ctx, question, ids)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	answer, err := s.answer(ctx, question, chunks, names)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	source := ids[0]
	if len(chunks) > 0 {
		source = chunks[0].KnowledgeBaseID
	}

	if err := s.repo.RecordQuery(ctx, ids, s.now()); err != nil {
		s.logger.Warn("failed to record query", zap.Int64s("ids", ids), zap.Error(err))
	}
	s.invalidateList()

	s.logger.Info("question answered",
		zap.Int64s("ids", ids),
		zap.Int("chunks", len(chunks)),
		zap.Int64("source", source))

	return &domain.QueryResponse{
		Answer:            answer,
		KnowledgeBaseID:   source,
		KnowledgeBaseName: names[source],
	}, nil
}

func (s *KnowledgeBaseService) answer(ctx context.Context, question string, chunks []domain.ScoredChunk, names map[int64]string) (string, error) {
	if len(chunks) == 0 {
		return noContextAnswer, nil
	}

	if s.answerer != nil {
		excerpts := make([]string, len(chunks))
		for i, c := range chunks {
			excerpts[i] = fmt.Sprintf("From %q:\n%s", names[c.KnowledgeBaseID], c.Content)
		}
		return s.answerer.Answer(ctx, question, excerpts)
	}

	return excerptAnswer(chunks, names), nil
}

// excerptAnswer quotes the best passages when no answer model is configured.
func excerptAnswer(chunks []domain.ScoredChunk, names map[int64]string) string {
	var b strings.Builder
	b.WriteString("Most relevant passages:")
	for i, c := range chunks {
		if i == excerptAnswers {
			break
		}
		fmt.Fprintf(&b, "\n\n[%s]\n%s", names[c.KnowledgeBaseID], truncate(c.Content, excerptMaxChars))
	}
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
