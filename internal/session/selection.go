package session

import (
	"sort"

	"go.uber.org/zap"
)

type selection struct {
	ids map[int64]struct{}
}

func newSelection() selection {
	return selection{ids: make(map[int64]struct{})}
}

func (s *selection) has(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *selection) add(id int64)    { s.ids[id] = struct{}{} }
func (s *selection) remove(id int64) { delete(s.ids, id) }
func (s *selection) clear()          { s.ids = make(map[int64]struct{}) }
func (s *selection) len() int        { return len(s.ids) }

func (s *selection) list() []int64 {
	ids := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Toggle adds or removes id from the selection and clears the transcript. It returns
// false, changing nothing, when id is not in the registry.
func (s *Session) Toggle(id int64) bool {
	s.mu.Lock()
	if !s.registry.contains(id) {
		s.mu.Unlock()
		return false
	}
	selected := !s.selection.has(id)
	if selected {
		s.selection.add(id)
	} else {
		s.selection.remove(id)
	}
	s.transcript.clear()
	s.unlockAndNotify()

	s.logger.Debug("selection toggled", zap.Int64("id", id), zap.Bool("selected", selected))
	return true
}

// ClearSelection empties the selection and the transcript.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selection.clear()
	s.transcript.clear()
	s.unlockAndNotify()
}

// IsSelected reports whether id is selected.
func (s *Session) IsSelected(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.has(id)
}

// Selected returns the selected ids in ascending order.
func (s *Session) Selected() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.list()
}
