package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/infra/metrics"
)

const leaseReaperLock = "lock:lease-reaper"

// LeaseReaper returns jobs whose lease expired to the waiting set and
// publishes queue depth gauges.
type LeaseReaper struct {
	interval time.Duration
	queue    adapter.JobQueue
	locker   adapter.Locker
	log      *zerolog.Logger
}

func NewLeaseReaper(interval time.Duration, queue adapter.JobQueue, locker adapter.Locker, logger *zerolog.Logger) *LeaseReaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	l := logger.With().Str("component", "LeaseReaper").Logger()
	return &LeaseReaper{interval: interval, queue: queue, locker: locker, log: &l}
}

func (w *LeaseReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting lease reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping lease reaper")
			return ctx.Err()
		case <-ticker.C:
			runLocked(ctx, w.locker, leaseReaperLock, w.interval, w.log, w.tick)
		}
	}
}

func (w *LeaseReaper) tick(ctx context.Context) {
	n, err := w.queue.RequeueExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("requeue expired leases")
	}
	if n > 0 {
		metrics.AddLeasesRequeued(n)
		w.log.Warn().Int("count", n).Msg("expired leases requeued")
	}

	s, err := w.queue.Stats(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("queue stats")
		return
	}
	metrics.SetQueueDepth(s.Waiting, s.Active, s.Delayed, s.Completed, s.Failed)
}
