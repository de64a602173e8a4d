package session

import (
	"context"
	"sort"

	"github.com/cloo-solutions/kbask/internal/domain"
	"go.uber.org/zap"
)

type registry struct {
	entries []domain.KnowledgeBase
	loaded  bool

	// issuedSeq numbers refreshes as they start; appliedSeq is the newest one whose
	// result (or a later local removal) is reflected in entries.
	issuedSeq  uint64
	appliedSeq uint64

	deleting map[int64]bool
}

func newRegistry() registry {
	return registry{deleting: make(map[int64]bool)}
}

func (r *registry) replace(list []domain.KnowledgeBase) {
	seen := make(map[int64]bool, len(list))
	entries := make([]domain.KnowledgeBase, 0, len(list))
	for _, kb := range list {
		if seen[kb.ID] {
			continue
		}
		seen[kb.ID] = true
		entries = append(entries, kb)
	}
	r.entries = entries
	r.loaded = true
}

func (r *registry) contains(id int64) bool {
	_, ok := r.get(id)
	return ok
}

func (r *registry) get(id int64) (domain.KnowledgeBase, bool) {
	for _, kb := range r.entries {
		if kb.ID == id {
			return kb, true
		}
	}
	return domain.KnowledgeBase{}, false
}

func (r *registry) remove(id int64) bool {
	for i, kb := range r.entries {
		if kb.ID == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			// a refresh issued before the removal may still list the entry
			r.appliedSeq = r.issuedSeq
			return true
		}
	}
	return false
}

func (r *registry) list() []domain.KnowledgeBase {
	out := make([]domain.KnowledgeBase, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *registry) deletingIDs() []int64 {
	if len(r.deleting) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(r.deleting))
	for id := range r.deleting {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Refresh replaces the registry with the service's current list. When several
// refreshes overlap, only the most recently issued one is applied. Selected ids that
// no longer exist are dropped, which clears the transcript.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.registry.issuedSeq++
	seq := s.registry.issuedSeq
	s.mu.Unlock()

	list, err := s.remote.ListKnowledgeBases(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh knowledge bases", zap.Error(err))
		return err
	}

	s.mu.Lock()
	if seq <= s.registry.appliedSeq {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded refresh", zap.Uint64("seq", seq))
		return nil
	}
	s.registry.appliedSeq = seq
	s.registry.replace(list)

	var pruned []int64
	for _, id := range s.selection.list() {
		if !s.registry.contains(id) {
			s.selection.remove(id)
			pruned = append(pruned, id)
		}
	}
	if len(pruned) > 0 {
		s.transcript.clear()
	}
	count := len(s.registry.entries)
	s.unlockAndNotify()

	s.logger.Debug("knowledge bases refreshed", zap.Int("count", count), zap.Int64s("pruned", pruned))
	return nil
}

// KnowledgeBases returns the registry entries in service order.
func (s *Session) KnowledgeBases() []domain.KnowledgeBase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.list()
}

// Lookup returns the registry entry for id.
func (s *Session) Lookup(id int64) (domain.KnowledgeBase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.get(id)
}

// Remove deletes a knowledge base on the service. On success the entry leaves the
// registry and the selection in one step (clearing the transcript if it was selected)
// and the registry is refreshed. A second Remove for the same id while the first is
// outstanding fails with ErrDeleteInFlight.
func (s *Session) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.registry.deleting[id] {
		s.mu.Unlock()
		return ErrDeleteInFlight
	}
	s.registry.deleting[id] = true
	if p := s.deletion.pending; p != nil && p.ID == id {
		p.InFlight = true
		p.Error = ""
	}
	s.unlockAndNotify()

	err := s.remote.DeleteKnowledgeBase(ctx, id)

	s.mu.Lock()
	delete(s.registry.deleting, id)
	if err != nil {
		derr := &domain.DeletionError{ID: id, Message: domain.UserMessage(err, msgDeleteFailed), Err: err}
		if p := s.deletion.pending; p != nil && p.ID == id {
			p.InFlight = false
			p.Error = derr.Message
		}
		s.unlockAndNotify()
		s.logger.Warn("failed to delete knowledge base", zap.Int64("id", id), zap.Error(err))
		return derr
	}

	s.registry.remove(id)
	if s.selection.has(id) {
		s.selection.remove(id)
		s.transcript.clear()
	}
	if p := s.deletion.pending; p != nil && p.ID == id {
		s.deletion.pending = nil
	}
	s.unlockAndNotify()
	s.logger.Info("knowledge base deleted", zap.Int64("id", id))

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after delete failed", zap.Int64("id", id), zap.Error(err))
	}
	return nil
}
