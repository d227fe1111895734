package repository

import (
	"context"
	"time"

	"image-task-pipeline/internal/domain/model"
)

type TaskRepository interface {
	Create(ctx context.Context, tx Tx, t *model.Task) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Task, error)
	ListByOwner(ctx context.Context, tx Tx, ownerID string, status *model.TaskStatus, limit int) ([]*model.Task, error)

	// CountPendingBefore counts pending tasks created strictly before t.
	CountPendingBefore(ctx context.Context, tx Tx, t time.Time) (int, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Task, error)

	// MarkProcessing moves a pending or processing task to processing and records
	// the attempt. Returns false when the task is already terminal.
	MarkProcessing(ctx context.Context, tx Tx, id string, attempt int, at time.Time) (bool, error)
	// MarkCompleted moves a processing task to completed. Returns false when the
	// task is not processing.
	MarkCompleted(ctx context.Context, tx Tx, id string, result *model.TaskResult, at time.Time) (bool, error)
	// MarkFailed moves a task whose status is in from to failed. Returns the owner
	// id and true only when this call performed the transition.
	MarkFailed(ctx context.Context, tx Tx, id string, from []model.TaskStatus, msg string, attempts int, at time.Time) (string, bool, error)
}
