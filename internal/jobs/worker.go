package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobProcessor handles one polling round.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker runs its processor on a fixed interval, and early whenever Wake is called.
// Rounds never overlap.
type Worker struct {
	processor JobProcessor
	interval  time.Duration
	logger    *zap.Logger

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewWorker(processor JobProcessor, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		processor: processor,
		interval:  interval,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called. The first round runs
// immediately so work left over from a previous run is picked up on boot.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("worker started", zap.Duration("interval", w.interval))
	w.round(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", zap.String("reason", "context cancelled"))
			return
		case <-w.stop:
			w.logger.Info("worker stopped", zap.String("reason", "stop requested"))
			return
		case <-w.wake:
			w.round(ctx, "wake")
			ticker.Reset(w.interval)
		case <-ticker.C:
			w.round(ctx, "tick")
		}
	}
}

// Wake asks for a round as soon as the current one finishes. It never blocks and
// repeated calls before the round starts collapse into one.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for the current round to finish. Safe to call
// more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) round(ctx context.Context, trigger string) {
	if err := w.processor.ProcessJobs(ctx); err != nil && ctx.Err() == nil {
		w.logger.Warn("job round failed", zap.String("trigger", trigger), zap.Error(err))
	}
}
