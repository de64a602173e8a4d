// Package watcher reports documents created or modified in a directory.
package watcher

import (
	"context"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long a file must stay quiet before it is reported.
const DefaultSettle = 500 * time.Millisecond

// Event is a document that was created or changed.
type Event struct {
	Path string
}

// Watcher watches one directory for accepted document types.
type Watcher struct {
	watcher *fsnotify.Watcher
	settle  time.Duration
	logger  *zap.Logger
}

// New creates a Watcher. A zero settle uses DefaultSettle.
func New(settle time.Duration, logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{watcher: w, settle: settle, logger: logger}, nil
}

// Watch starts monitoring dir. Editors and copies produce bursts of writes, so an
// event is emitted once a path has been quiet for the settle period. The channel is
// closed when ctx is done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	events := make(chan Event, 16)

	go func() {
		defer close(events)

		pending := make(map[string]time.Time)
		ticker := time.NewTicker(w.settle / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !domain.IsAcceptedFilename(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
						delete(pending, event.Name)
					}
					continue
				}
				pending[event.Name] = time.Now()
			case now := <-ticker.C:
				for path, last := range pending {
					if now.Sub(last) < w.settle {
						continue
					}
					delete(pending, path)
					select {
					case events <- Event{Path: path}:
					case <-ctx.Done():
						return
					}
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	}()

	return events, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
