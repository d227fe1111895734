// Package queue holds the in-process JobQueue used in dev mode and tests.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/adapter"
)

var _ adapter.JobQueue = (*MemoryQueue)(nil)

type jobState int

const (
	stateWaiting jobState = iota
	stateDelayed
	stateActive
	stateCompleted
	stateFailed
)

type memJob struct {
	job        model.QueueJob
	state      jobState
	seq        uint64
	readyAt    time.Time
	leaseUntil time.Time
	finishedAt time.Time
}

type Options struct {
	KeepCompleted int
	KeepFailed    int
	Retention     time.Duration
}

// MemoryQueue mirrors the Redis queue semantics behind a mutex.
type MemoryQueue struct {
	mu        sync.Mutex
	opts      Options
	jobs      map[string]*memJob
	seq       uint64
	completed []model.JobRecord // newest first
	failed    []model.JobRecord
	now       func() time.Time
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 100
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 500
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &MemoryQueue{
		opts: opts,
		jobs: make(map[string]*memJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests use it to skip backoff delays.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(_ context.Context, job model.QueueJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.pruneLocked(now)
	if _, ok := q.jobs[job.ID]; ok {
		return false, nil
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	job.Attempts = 0
	job.LeaseToken = ""
	q.seq++
	q.jobs[job.ID] = &memJob{job: job, state: stateWaiting, seq: q.seq}
	return true, nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, lease time.Duration) (*model.QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *memJob
	for _, j := range q.jobs {
		if j.state == stateDelayed && !j.readyAt.After(now) {
			j.state = stateWaiting
		}
		if j.state != stateWaiting {
			continue
		}
		if next == nil || j.job.Priority < next.job.Priority ||
			(j.job.Priority == next.job.Priority && j.seq < next.seq) {
			next = j
		}
	}
	if next == nil {
		return nil, domain.ErrQueueEmpty
	}
	next.state = stateActive
	next.leaseUntil = now.Add(lease)
	next.job.Attempts++
	next.job.LeaseToken = uuid.NewString()
	out := next.job
	return &out, nil
}

func (q *MemoryQueue) leased(job *model.QueueJob) (*memJob, error) {
	j, ok := q.jobs[job.ID]
	if !ok || j.state != stateActive || j.job.LeaseToken != job.LeaseToken {
		return nil, domain.ErrLeaseLost
	}
	return j, nil
}

func (q *MemoryQueue) Ack(_ context.Context, job *model.QueueJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.leased(job)
	if err != nil {
		return err
	}
	now := q.now()
	j.state = stateCompleted
	j.finishedAt = now
	q.completed = pushCapped(q.completed, model.JobRecord{ID: j.job.ID, Attempts: j.job.Attempts, FinishedAt: now}, q.opts.KeepCompleted)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job *model.QueueJob, delay time.Duration, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.leased(job)
	if err != nil {
		return err
	}
	j.state = stateDelayed
	j.readyAt = q.now().Add(delay)
	j.job.LeaseToken = ""
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job *model.QueueJob, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.leased(job)
	if err != nil {
		return err
	}
	now := q.now()
	j.state = stateFailed
	j.finishedAt = now
	q.failed = pushCapped(q.failed, model.JobRecord{ID: j.job.ID, Attempts: j.job.Attempts, Reason: reason, FinishedAt: now}, q.opts.KeepFailed)
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || (j.state != stateWaiting && j.state != stateDelayed) {
		return false, nil
	}
	delete(q.jobs, jobID)
	return true, nil
}

func (q *MemoryQueue) RequeueExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	n := 0
	for _, j := range q.jobs {
		if j.state == stateActive && j.leaseUntil.Before(now) {
			j.state = stateWaiting
			j.job.LeaseToken = ""
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (model.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s model.QueueStats
	for _, j := range q.jobs {
		switch j.state {
		case stateWaiting:
			s.Waiting++
		case stateDelayed:
			s.Delayed++
		case stateActive:
			s.Active++
		}
	}
	s.Completed = int64(len(q.completed))
	s.Failed = int64(len(q.failed))
	s.Total = s.Waiting + s.Active + s.Delayed
	return s, nil
}

func (q *MemoryQueue) Completed(_ context.Context, limit int) ([]model.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return head(q.completed, limit), nil
}

func (q *MemoryQueue) Failed(_ context.Context, limit int) ([]model.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return head(q.failed, limit), nil
}

// pruneLocked forgets finished jobs past retention so their ids can be enqueued again.
func (q *MemoryQueue) pruneLocked(now time.Time) {
	for id, j := range q.jobs {
		if (j.state == stateCompleted || j.state == stateFailed) && now.Sub(j.finishedAt) > q.opts.Retention {
			delete(q.jobs, id)
		}
	}
}

func pushCapped(list []model.JobRecord, rec model.JobRecord, max int) []model.JobRecord {
	list = append([]model.JobRecord{rec}, list...)
	if len(list) > max {
		list = list[:max]
	}
	return list
}

func head(list []model.JobRecord, limit int) []model.JobRecord {
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]model.JobRecord, limit)
	copy(out, list[:limit])
	return out
}
