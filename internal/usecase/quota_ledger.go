package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/infra/logging"
	"image-task-pipeline/internal/infra/metrics"
)

// Compensation reasons, also used as metric labels.
const (
	CompensateEnqueueFailed   = "enqueue_failed"
	CompensateTerminalFailure = "terminal_failure"
	CompensateCancelled       = "cancelled"
)

// QuotaLedger owns every mutation of used quota. Reserve runs inside the
// admission transaction; Compensate runs only together with a successful
// transition to failed, which makes it at-most-once per task.
type QuotaLedger struct {
	quotas repository.QuotaRepository
	tasks  repository.TaskRepository
	tm     repository.TransactionManager
	log    *zerolog.Logger
}

func NewQuotaLedger(quotas repository.QuotaRepository, tasks repository.TaskRepository, tm repository.TransactionManager, logger *zerolog.Logger) *QuotaLedger {
	l := logger.With().Str("component", "QuotaLedger").Logger()
	return &QuotaLedger{quotas: quotas, tasks: tasks, tm: tm, log: &l}
}

// Reserve takes one unit from the owner's account. Returns domain.ErrQuotaExceeded
// when nothing is left; an owner without an account has zero quota.
func (l *QuotaLedger) Reserve(ctx context.Context, tx repository.Tx, ownerID string) (*model.QuotaAccount, error) {
	acc, err := l.quotas.Reserve(ctx, tx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no quota account", domain.ErrQuotaExceeded)
	}
	if err != nil {
		return nil, err
	}
	metrics.IncQuotaReserved()
	return acc, nil
}

// Compensate gives one unit back. Callers must only invoke it alongside the
// task transition that ends the reservation.
func (l *QuotaLedger) Compensate(ctx context.Context, tx repository.Tx, ownerID, reason string) error {
	if err := l.quotas.Release(ctx, tx, ownerID); err != nil {
		return err
	}
	metrics.IncQuotaCompensated(reason)
	return nil
}

// FailTask marks the task failed if its status is in from and compensates the
// owner in the same transaction. It reports whether this call did the
// transition; a second call for the same task is a no-op.
func (l *QuotaLedger) FailTask(ctx context.Context, taskID string, from []model.TaskStatus, msg string, attempts int, reason string) (bool, error) {
	defer logging.TraceDuration(l.log, "QuotaLedger.FailTask")()

	for _, s := range from {
		if !model.CanTransition(s, model.TaskStatusFailed) {
			return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s, model.TaskStatusFailed)
		}
	}

	var failed bool
	err := l.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		owner, ok, err := l.tasks.MarkFailed(ctx, tx, taskID, from, msg, attempts, time.Now().UTC())
		if err != nil || !ok {
			return err
		}
		if err := l.Compensate(ctx, tx, owner, reason); err != nil {
			return err
		}
		failed = true
		return nil
	})
	if err != nil {
		l.log.Error().Err(err).Str("task_id", taskID).Str("reason", reason).Msg("fail task")
		return false, err
	}
	if failed {
		metrics.IncTaskFinished(string(model.TaskStatusFailed))
		l.log.Info().Str("task_id", taskID).Str("reason", reason).Msg("task failed, quota compensated")
	}
	return failed, nil
}
