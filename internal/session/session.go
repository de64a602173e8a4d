// Package session implements the client-side knowledge base interaction session: the
// registry of known knowledge bases, the selection used to scope questions, the upload
// cycle, the question/answer transcript and the delete confirmation gate.
//
// A Session is safe for concurrent use. Remote calls are made without holding the
// session lock, so selection changes and other input stay possible while a call is
// outstanding; each mutation is applied in a single critical section and readers
// only ever see consistent snapshots.
package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"go.uber.org/zap"
)

// Remote is the knowledge base service as seen by a session.
type Remote interface {
	ListKnowledgeBases(ctx context.Context) ([]domain.KnowledgeBase, error)
	UploadKnowledgeBase(ctx context.Context, filename string, content io.Reader, name string) (*domain.UploadResult, error)
	DeleteKnowledgeBase(ctx context.Context, id int64) error
	QueryKnowledgeBase(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)
}

// Config holds optional session settings.
type Config struct {
	Logger         *zap.Logger
	MaxUploadBytes int64
	Now            func() time.Time
}

// Session owns the registry, selection, transcript, upload and deletion state for one
// interactive view. It lives as long as that view.
type Session struct {
	remote         Remote
	logger         *zap.Logger
	maxUploadBytes int64
	now            func() time.Time

	mu         sync.Mutex
	registry   registry
	selection  selection
	transcript transcript
	query      queryState
	upload     uploadState
	deletion   deletionState
	observers  []func(Snapshot)
	seq        uint64

	// notifyMu serializes observer delivery; delivered is the newest Seq handed out.
	notifyMu  sync.Mutex
	delivered uint64
}

// New creates a Session backed by remote.
func New(remote Remote, cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = domain.DefaultMaxUploadBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Session{
		remote:         remote,
		logger:         cfg.Logger.Named("session"),
		maxUploadBytes: cfg.MaxUploadBytes,
		now:            cfg.Now,
		registry:       newRegistry(),
		selection:      newSelection(),
		upload:         uploadState{state: UploadIdle},
	}
}

// OnChange registers fn to receive a snapshot after committed state changes.
// Callbacks run outside the session lock, one at a time, and see snapshots in
// commit order: a snapshot older than one already delivered is dropped, so the last
// delivered snapshot always reflects the latest state. Callbacks may read the
// session but must not change it.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Snapshot is a consistent copy of the whole session state.
type Snapshot struct {
	// Seq increases with every committed change.
	Seq             uint64
	KnowledgeBases  []domain.KnowledgeBase
	Loaded          bool
	Selected        []int64
	Transcript      []Turn
	TranscriptScope []int64
	QueryPending    bool
	Upload          UploadStatus
	PendingDeletion *PendingDeletion
	Deleting        []int64
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:             s.seq,
		KnowledgeBases:  s.registry.list(),
		Loaded:          s.registry.loaded,
		Selected:        s.selection.list(),
		Transcript:      s.transcript.list(),
		TranscriptScope: s.transcript.scopeIDs(),
		QueryPending:    s.query.pending,
		Upload:          s.upload.status(),
		Deleting:        s.registry.deletingIDs(),
	}
	if p := s.deletion.pending; p != nil {
		cp := *p
		snap.PendingDeletion = &cp
	}
	return snap
}

// unlockAndNotify commits the caller's change, releases the lock and hands the new
// state to observers unless a newer state has already been delivered.
func (s *Session) unlockAndNotify() {
	s.seq++
	observers := s.observers
	if len(observers) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Seq <= s.delivered {
		return
	}
	s.delivered = snap.Seq
	for _, fn := range observers {
		fn(snap)
	}
}
