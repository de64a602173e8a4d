package session

import (
	"context"
	"strings"

	"github.com/cloo-solutions/kbask/internal/domain"
	"go.uber.org/zap"
)

type queryState struct {
	pending bool
}

// Ask sends question over the selected knowledge bases and appends the exchange to
// the transcript. The user turn is visible while the answer is pending.
//
// A returned error means no assistant turn was appended: a *domain.ValidationError
// for an empty selection or question, ErrQueryPending while another question is
// outstanding, or ErrStaleAnswer when the transcript was cleared before the answer
// arrived. A failed remote call is not an error here; it is recorded as an assistant
// turn with status TurnFailed and returned.
func (s *Session) Ask(ctx context.Context, question string) (Turn, error) {
	text := strings.TrimSpace(question)

	s.mu.Lock()
	if s.query.pending {
		s.mu.Unlock()
		return Turn{}, ErrQueryPending
	}
	if s.selection.len() == 0 {
		s.mu.Unlock()
		return Turn{}, domain.NewValidationError("selection", "select at least one knowledge base")
	}
	if text == "" {
		s.mu.Unlock()
		return Turn{}, domain.NewValidationError("question", "question is required")
	}

	scope := s.selection.list()
	epoch := s.transcript.epoch
	userTurn := s.transcript.append(Turn{
		Role:      RoleUser,
		Content:   text,
		Status:    TurnPending,
		CreatedAt: s.now(),
	}, scope)
	s.query.pending = true
	s.unlockAndNotify()

	resp, err := s.remote.QueryKnowledgeBase(ctx, domain.QueryRequest{
		KnowledgeBaseIDs: scope,
		Question:         text,
	})

	s.mu.Lock()
	s.query.pending = false
	if s.transcript.epoch != epoch {
		s.unlockAndNotify()
		s.logger.Debug("discarding answer for cleared transcript", zap.Int64s("scope", scope), zap.Error(err))
		return Turn{}, ErrStaleAnswer
	}

	var answer Turn
	if err != nil {
		s.transcript.setStatus(userTurn.ID, TurnFailed)
		answer = s.transcript.append(Turn{
			Role:      RoleAssistant,
			Content:   domain.UserMessage(err, msgAnswerFailed),
			Status:    TurnFailed,
			CreatedAt: s.now(),
		}, scope)
	} else {
		s.transcript.setStatus(userTurn.ID, TurnAnswered)
		answer = s.transcript.append(Turn{
			Role:              RoleAssistant,
			Content:           resp.Answer,
			Status:            TurnAnswered,
			CreatedAt:         s.now(),
			KnowledgeBaseID:   resp.KnowledgeBaseID,
			KnowledgeBaseName: resp.KnowledgeBaseName,
		}, scope)
	}
	s.unlockAndNotify()

	if err != nil {
		s.logger.Warn("query failed", zap.Int64s("scope", scope), zap.Error(err))
	}
	return answer, nil
}

// QueryPending reports whether a question is awaiting its answer.
func (s *Session) QueryPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.pending
}
