package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/infra/logging"
	"image-task-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ TaskUseCase = (*taskUC)(nil)

const (
	submitMessage = "task submitted, poll its status for the result"
	maxListLimit  = 50
)

type TaskUseCase interface {
	Submit(ctx context.Context, ownerID string, params model.TaskParams) (*SubmitResult, error)
	GetStatus(ctx context.Context, taskID, ownerID string) (*TaskView, error)
	Cancel(ctx context.Context, taskID, ownerID string) error
	List(ctx context.Context, ownerID string, status *model.TaskStatus, limit int) ([]*model.Task, error)
	QueueStats(ctx context.Context) (model.QueueStats, error)
}

type SubmitResult struct {
	TaskID  string
	Status  model.TaskStatus
	Message string
}

// TaskView is a task as seen by its owner. QueuePosition is set only while pending.
type TaskView struct {
	Task          *model.Task
	QueuePosition *int
}

// SubmitLimit caps submissions per owner per window. Zero disables it.
type SubmitLimit struct {
	Limit  int
	Window time.Duration
}

type taskUC struct {
	tasks      repository.TaskRepository
	categories repository.CategoryRepository
	tm         repository.TransactionManager
	ledger     *QuotaLedger
	queue      adapter.JobQueue
	limiter    adapter.RateLimiter
	limit      SubmitLimit
	devMode    bool
	log        *zerolog.Logger
}

func NewTaskUseCase(
	tasks repository.TaskRepository,
	categories repository.CategoryRepository,
	tm repository.TransactionManager,
	ledger *QuotaLedger,
	queue adapter.JobQueue,
	limiter adapter.RateLimiter,
	limit SubmitLimit,
	devMode bool,
	logger *zerolog.Logger,
) *taskUC {
	l := logger.With().Str("component", "TaskUseCase").Logger()
	return &taskUC{
		tasks:      tasks,
		categories: categories,
		tm:         tm,
		ledger:     ledger,
		queue:      queue,
		limiter:    limiter,
		limit:      limit,
		devMode:    devMode,
		log:        &l,
	}
}

func submitKey(ownerID string) string { return "rate_limit:" + ownerID + ":submit" }

func (u *taskUC) Submit(ctx context.Context, ownerID string, params model.TaskParams) (*SubmitResult, error) {
	defer logging.TraceDuration(u.log, "TaskUseCase.Submit")()
	log := logging.With(ctx, u.log)

	if err := params.Normalize(); err != nil {
		metrics.IncTaskRejected("validation")
		return nil, err
	}
	if err := u.allowSubmit(ctx, ownerID); err != nil {
		metrics.IncTaskRejected("rate_limited")
		return nil, err
	}
	if err := u.resolveCategories(ctx, &params); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			metrics.IncTaskRejected("validation")
		}
		return nil, err
	}

	var task *model.Task
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := u.ledger.Reserve(ctx, tx, ownerID); err != nil {
			return err
		}
		t, err := model.NewTask(ulid.Make().String(), ownerID, params)
		if err != nil {
			return err
		}
		if err := u.tasks.Create(ctx, tx, t); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			metrics.IncTaskRejected("quota")
		}
		return nil, err
	}
	metrics.IncTaskAdmitted()

	log.Info().
		Str("task_id", task.ID).
		Str("model", params.ModelName).
		Str("prompt", logging.Redact(params.Prompt, u.devMode)).
		Msg("task admitted")

	if _, err := u.queue.Enqueue(ctx, model.NewQueueJob(task)); err != nil {
		metrics.IncTaskRejected("enqueue")
		log.Error().Err(err).Str("task_id", task.ID).Msg("enqueue failed, compensating")
		// Compensation must run even if the request was cancelled.
		cctx := context.WithoutCancel(ctx)
		if _, cerr := u.ledger.FailTask(cctx, task.ID, []model.TaskStatus{model.TaskStatusPending},
			model.ErrMsgEnqueueFailed, 0, CompensateEnqueueFailed); cerr != nil {
			log.Error().Err(cerr).Str("task_id", task.ID).Msg("compensation failed")
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	return &SubmitResult{TaskID: task.ID, Status: task.Status, Message: submitMessage}, nil
}

func (u *taskUC) allowSubmit(ctx context.Context, ownerID string) error {
	if u.limiter == nil || u.limit.Limit <= 0 {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, submitKey(ownerID), u.limit.Limit, u.limit.Window)
	if err != nil {
		// Fail open while the limiter backend is down.
		u.log.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// resolveCategories checks style and model in parallel and records their names.
func (u *taskUC) resolveCategories(ctx context.Context, params *model.TaskParams) error {
	var style, mdl *model.Category
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := u.categories.FindEnabled(gctx, repository.NoTX, params.StyleID, model.CategoryStyle)
		if err != nil {
			return categoryErr("styleId", params.StyleID, err)
		}
		style = c
		return nil
	})
	g.Go(func() error {
		c, err := u.categories.FindEnabled(gctx, repository.NoTX, params.ModelID, model.CategoryModel)
		if err != nil {
			return categoryErr("modelId", params.ModelID, err)
		}
		mdl = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	params.StyleName = style.Name
	params.ModelName = mdl.Name
	return nil
}

func categoryErr(field string, id int64, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s %d does not exist or is disabled", domain.ErrValidation, field, id)
	}
	return err
}

// ownedTask loads a task and checks the caller owns it.
func (u *taskUC) ownedTask(ctx context.Context, taskID, ownerID string) (*model.Task, error) {
	t, err := u.tasks.FindByID(ctx, repository.NoTX, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return t, nil
}

func (u *taskUC) GetStatus(ctx context.Context, taskID, ownerID string) (*TaskView, error) {
	defer logging.TraceDuration(u.log, "TaskUseCase.GetStatus")()

	t, err := u.ownedTask(ctx, taskID, ownerID)
	if err != nil {
		return nil, err
	}
	view := &TaskView{Task: t}
	if t.Status == model.TaskStatusPending {
		ahead, err := u.tasks.CountPendingBefore(ctx, repository.NoTX, t.CreatedAt)
		if err != nil {
			return nil, err
		}
		pos := ahead + 1
		view.QueuePosition = &pos
	}
	return view, nil
}

func (u *taskUC) Cancel(ctx context.Context, taskID, ownerID string) error {
	defer logging.TraceDuration(u.log, "TaskUseCase.Cancel")()
	log := logging.With(ctx, u.log)

	t, err := u.ownedTask(ctx, taskID, ownerID)
	if err != nil {
		return err
	}
	if t.Status != model.TaskStatusPending {
		return domain.ErrNotCancellable
	}
	ok, err := u.ledger.FailTask(ctx, taskID, []model.TaskStatus{model.TaskStatusPending},
		model.ErrMsgCancelled, t.AttemptCount, CompensateCancelled)
	if err != nil {
		return err
	}
	if !ok {
		// A worker picked it up between the read and the transition.
		return domain.ErrNotCancellable
	}

	removed, err := u.queue.Remove(ctx, taskID)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("queue removal failed, worker will skip the job")
	}
	log.Info().Str("task_id", taskID).Bool("dequeued", removed).Msg("task cancelled")
	return nil
}

func (u *taskUC) List(ctx context.Context, ownerID string, status *model.TaskStatus, limit int) ([]*model.Task, error) {
	defer logging.TraceDuration(u.log, "TaskUseCase.List")()
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return u.tasks.ListByOwner(ctx, repository.NoTX, ownerID, status, limit)
}

func (u *taskUC) QueueStats(ctx context.Context) (model.QueueStats, error) {
	return u.queue.Stats(ctx)
}
