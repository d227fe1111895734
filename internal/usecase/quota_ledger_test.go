//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v4"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/usecase"
)

func TestQuotaLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("should reserve and compensate one unit each", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 2, 0)

		err := e.store.TxManager().WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			acc, err := e.ledger.Reserve(ctx, tx, "alice")
			if err != nil {
				return err
			}
			if acc.UsedQuota != 1 {
				t.Errorf("expected used=1 after reserve, got %d", acc.UsedQuota)
			}
			return e.ledger.Compensate(ctx, tx, "alice", usecase.CompensateCancelled)
		})
		if err != nil {
			t.Fatalf("WithTx: %v", err)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected used=0, got %d", got)
		}
	})

	t.Run("should roll the reservation back with the transaction", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 2, 0)
		boom := errors.New("task insert failed")

		err := e.store.TxManager().WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if _, err := e.ledger.Reserve(ctx, tx, "alice"); err != nil {
				return err
			}
			return boom
		})

		if !errors.Is(err, boom) {
			t.Fatalf("expected the callback error, got %v", err)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected used=0 after rollback, got %d", got)
		}
	})

	t.Run("should refuse a reservation beyond the total", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 1, 1)

		_, err := e.ledger.Reserve(ctx, repository.NoTX, "alice")

		if !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}
	})

	t.Run("should treat an owner without an account as out of quota", func(t *testing.T) {
		_, err := newEnv(t).ledger.Reserve(ctx, repository.NoTX, "carol")

		if !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}
		if errors.Is(err, domain.ErrNotFound) {
			t.Errorf("a missing account must not surface as not found: %v", err)
		}
	})

	t.Run("should fail a task and compensate at most once", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, err := e.uc.Submit(ctx, "alice", e.params())
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		from := []model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing}

		// --- Act ---
		first, err1 := e.ledger.FailTask(ctx, res.TaskID, from, "model service down", 3, usecase.CompensateTerminalFailure)
		second, err2 := e.ledger.FailTask(ctx, res.TaskID, from, "model service down", 3, usecase.CompensateTerminalFailure)

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("FailTask errors: %v, %v", err1, err2)
		}
		if !first || second {
			t.Errorf("expected only the first call to transition, got %v and %v", first, second)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected used=0, got %d", got)
		}
		task := e.task(t, res.TaskID)
		if task.AttemptCount != 3 || task.CompletedAt == nil {
			t.Errorf("unexpected task %+v", task)
		}
	})

	t.Run("should not fail a completed task", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())
		tasks := e.store.Tasks()
		_, _ = tasks.MarkProcessing(ctx, repository.NoTX, res.TaskID, 1, timeNow())
		_, _ = tasks.MarkCompleted(ctx, repository.NoTX, res.TaskID, &model.TaskResult{ImageURL: "http://x/y.png"}, timeNow())

		ok, err := e.ledger.FailTask(ctx, res.TaskID,
			[]model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing}, "late", 3, usecase.CompensateTerminalFailure)

		if err != nil || ok {
			t.Fatalf("expected no transition, got %v %v", ok, err)
		}
		if got := e.used(t, "alice"); got != 1 {
			t.Errorf("expected quota kept for a completed task, got used=%d", got)
		}
	})

	t.Run("should reject a source status that cannot fail", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())

		// --- Act ---
		ok, err := e.ledger.FailTask(ctx, res.TaskID,
			[]model.TaskStatus{model.TaskStatusCompleted}, "late", 3, usecase.CompensateTerminalFailure)

		// --- Assert ---
		if !errors.Is(err, domain.ErrInvalidTransition) || ok {
			t.Fatalf("expected ErrInvalidTransition, got %v %v", ok, err)
		}
		if task := e.task(t, res.TaskID); task.Status != model.TaskStatusPending {
			t.Errorf("expected task untouched, got %s", task.Status)
		}
		if got := e.used(t, "alice"); got != 1 {
			t.Errorf("expected used=1, got %d", got)
		}
	})
}
