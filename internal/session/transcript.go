package session

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnStatus tracks a user turn through its query, and marks assistant turns as an
// answer or an error report.
type TurnStatus string

const (
	TurnPending  TurnStatus = "pending"
	TurnAnswered TurnStatus = "answered"
	TurnFailed   TurnStatus = "failed"
)

// Turn is one transcript entry.
type Turn struct {
	ID        uint64
	Role      Role
	Content   string
	Status    TurnStatus
	CreatedAt time.Time

	// Set on answers: the knowledge base the service attributed the answer to.
	KnowledgeBaseID   int64
	KnowledgeBaseName string
}

type transcript struct {
	turns []Turn
	scope []int64
	// epoch changes on every clear; answers for an older epoch are dropped.
	epoch  uint64
	nextID uint64
}

func (t *transcript) clear() {
	t.turns = nil
	t.scope = nil
	t.epoch++
}

func (t *transcript) append(turn Turn, scope []int64) Turn {
	if len(t.turns) == 0 {
		t.scope = append([]int64(nil), scope...)
	}
	t.nextID++
	turn.ID = t.nextID
	t.turns = append(t.turns, turn)
	return turn
}

func (t *transcript) setStatus(id uint64, status TurnStatus) {
	for i := range t.turns {
		if t.turns[i].ID == id {
			t.turns[i].Status = status
			return
		}
	}
}

func (t *transcript) list() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *transcript) scopeIDs() []int64 {
	if len(t.scope) == 0 {
		return nil
	}
	return append([]int64(nil), t.scope...)
}

// Transcript returns the current turns, oldest first.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.list()
}
