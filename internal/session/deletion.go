package session

import "context"

// PendingDeletion is a delete awaiting the user's confirmation.
type PendingDeletion struct {
	ID       int64
	Name     string
	InFlight bool
	// Error holds the message of the last failed attempt.
	Error string
}

type deletionState struct {
	pending *PendingDeletion
}

// RequestDelete opens a confirmation for id, replacing any earlier one. Nothing is
// sent to the service until ConfirmDelete.
func (s *Session) RequestDelete(id int64, name string) error {
	s.mu.Lock()
	if p := s.deletion.pending; p != nil && p.InFlight {
		s.mu.Unlock()
		return ErrDeleteInFlight
	}
	s.deletion.pending = &PendingDeletion{ID: id, Name: name}
	s.unlockAndNotify()
	return nil
}

// ConfirmDelete removes the knowledge base awaiting confirmation. On failure the
// confirmation stays open with the error recorded so it can be retried or cancelled;
// the returned error is a *domain.DeletionError.
func (s *Session) ConfirmDelete(ctx context.Context) error {
	s.mu.Lock()
	p := s.deletion.pending
	if p == nil {
		s.mu.Unlock()
		return ErrNoPendingDeletion
	}
	id := p.ID
	s.mu.Unlock()

	return s.Remove(ctx, id)
}

// CancelDelete discards the pending confirmation. It fails with ErrDeleteInFlight
// once the delete has been sent.
func (s *Session) CancelDelete() error {
	s.mu.Lock()
	p := s.deletion.pending
	if p == nil {
		s.mu.Unlock()
		return nil
	}
	if p.InFlight {
		s.mu.Unlock()
		return ErrDeleteInFlight
	}
	s.deletion.pending = nil
	s.unlockAndNotify()
	return nil
}

// PendingDeletion returns the open confirmation, if any.
func (s *Session) PendingDeletion() (PendingDeletion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deletion.pending == nil {
		return PendingDeletion{}, false
	}
	return *s.deletion.pending, true
}
