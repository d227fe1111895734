package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/domain/ports/repository"
)

const pendingReconcilerLock = "lock:pending-reconciler"

// PendingReconciler periodically re-enqueues tasks that stayed pending longer
// than staleAfter. This covers a process crash between the admission commit
// and the enqueue. Enqueue is a no-op for jobs the queue still holds.
type PendingReconciler struct {
	tasks      repository.TaskRepository
	queue      adapter.JobQueue
	locker     adapter.Locker
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending task must be to re-enqueue
	log        *zerolog.Logger
}

func NewPendingReconciler(tasks repository.TaskRepository, queue adapter.JobQueue, locker adapter.Locker, interval, staleAfter time.Duration, logger *zerolog.Logger) *PendingReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	l := logger.With().Str("component", "PendingReconciler").Logger()
	return &PendingReconciler{tasks: tasks, queue: queue, locker: locker, interval: interval, staleAfter: staleAfter, log: &l}
}

func (w *PendingReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runLocked(ctx, w.locker, pendingReconcilerLock, w.interval, w.log, func(ctx context.Context) {
				w.tick(ctx)
			})
		}
	}
}

// tick returns how many jobs were actually re-enqueued.
func (w *PendingReconciler) tick(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-w.staleAfter)
	pending, err := w.tasks.ListPendingOlderThan(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending tasks")
		return 0
	}
	n := 0
	for _, t := range pending {
		added, err := w.queue.Enqueue(ctx, model.NewQueueJob(t))
		if err != nil {
			w.log.Error().Err(err).Str("task_id", t.ID).Msg("re-enqueue failed")
			continue
		}
		if added {
			n++
			w.log.Warn().Str("task_id", t.ID).Msg("re-enqueued lost job")
		}
	}
	return n
}
