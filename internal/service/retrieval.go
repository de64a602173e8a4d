package service

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/cloo-solutions/kbask/internal/domain"
	"go.uber.org/zap"
)

const (
	rrfK           = 60
	semanticWeight = 1.0
	lexicalWeight  = 0.8
	// candidateFactor widens each ranked list before fusion.
	candidateFactor = 4
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {}, "this": {}, "to": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

// keywordQuery drops stopwords and punctuation so the lexical search matches on
// content words only.
func keywordQuery(question string) string {
	var tokens []string
	for _, token := range strings.FieldsFunc(question, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-' && r != '\'')
	}) {
		clean := strings.ToLower(strings.Trim(token, "-'"))
		if clean == "" {
			continue
		}
		if _, ok := stopwords[clean]; ok {
			continue
		}
		tokens = append(tokens, clean)
	}
	return strings.Join(tokens, " ")
}

// retrieve ranks chunks of the given knowledge bases for question. Semantic and
// lexical hits are fused by reciprocal rank; when both come back empty the leading
// chunks of each knowledge base stand in.
func (s *KnowledgeBaseService) retrieve(ctx context.Context, question string, ids []int64) ([]domain.ScoredChunk, error) {
	candidates := s.cfg.TopK * candidateFactor

	var semantic []domain.ScoredChunk
	if s.embedder != nil {
		embedding, err := s.embedder.GenerateEmbedding(ctx, question)
		if err != nil {
			s.logger.Warn("question embedding failed, using keyword search", zap.Error(err))
		} else {
			semantic, err = s.chunks.SearchSemantic(ctx, embedding, ids, candidates)
			if err != nil {
				return nil, err
			}
		}
	}

	var lexical []domain.ScoredChunk
	if keywords := keywordQuery(question); keywords != "" {
		var err error
		lexical, err = s.chunks.SearchLexical(ctx, keywords, ids, candidates)
		if err != nil {
			return nil, err
		}
	}

	fused := fuseRankings(semantic, lexical)
	if len(fused) == 0 {
		perKB := s.cfg.TopK / len(ids)
		if perKB < 1 {
			perKB = 1
		}
		return s.chunks.LeadingChunks(ctx, ids, perKB)
	}
	if len(fused) > s.cfg.TopK {
		fused = fused[:s.cfg.TopK]
	}
	return fused, nil
}

type chunkKey struct {
	knowledgeBaseID int64
	chunkIndex      int
}

func fuseRankings(semantic, lexical []domain.ScoredChunk) []domain.ScoredChunk {
	scores := make(map[chunkKey]*domain.ScoredChunk)
	add := func(list []domain.ScoredChunk, weight float64) {
		for rank, c := range list {
			key := chunkKey{c.KnowledgeBaseID, c.ChunkIndex}
			cand, ok := scores[key]
			if !ok {
				cloned := c
				cloned.Score = 0
				cand = &cloned
				scores[key] = cand
			}
			cand.Score += weight / float64(rrfK+rank+1)
		}
	}
	add(semantic, semanticWeight)
	add(lexical, lexicalWeight)

	out := make([]domain.ScoredChunk, 0, len(scores))
	for _, c := range scores {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].KnowledgeBaseID != out[j].KnowledgeBaseID {
			return out[i].KnowledgeBaseID < out[j].KnowledgeBaseID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}
