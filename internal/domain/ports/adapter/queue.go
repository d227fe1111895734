package adapter

import (
	"context"
	"time"

	"image-task-pipeline/internal/domain/model"
)

// JobQueue is an at-least-once delivery queue keyed by task id.
//
// Enqueue is a no-op while a job with the same id is still known to the queue.
// Dequeue leases one ready job to a consumer, increments its Attempts and
// returns domain.ErrQueueEmpty when nothing is ready. A leased job is finished
// with exactly one of Ack, Retry or Fail; these return domain.ErrLeaseLost
// when the lease has expired and the job was handed to someone else.
type JobQueue interface {
	Enqueue(ctx context.Context, job model.QueueJob) (bool, error)
	Dequeue(ctx context.Context, lease time.Duration) (*model.QueueJob, error)
	Ack(ctx context.Context, job *model.QueueJob) error
	Retry(ctx context.Context, job *model.QueueJob, delay time.Duration, reason string) error
	Fail(ctx context.Context, job *model.QueueJob, reason string) error

	// Remove drops a job that is waiting or delayed. Leased jobs are never removed.
	Remove(ctx context.Context, jobID string) (bool, error)
	// RequeueExpired returns jobs with expired leases to the waiting set.
	RequeueExpired(ctx context.Context) (int, error)

	Stats(ctx context.Context) (model.QueueStats, error)
	Completed(ctx context.Context, limit int) ([]model.JobRecord, error)
	Failed(ctx context.Context, limit int) ([]model.JobRecord, error)
}
