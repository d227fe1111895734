//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

func TestTaskUseCase_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject an exhausted account without creating a task", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.account(t, "alice", 5, 5)

		// --- Act ---
		res, err := e.uc.Submit(ctx, "alice", e.params())

		// --- Assert ---
		if !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}
		if res != nil {
			t.Errorf("expected no result, got %+v", res)
		}
		tasks, _ := e.uc.List(ctx, "alice", nil, 0)
		if len(tasks) != 0 {
			t.Errorf("expected no task rows, got %d", len(tasks))
		}
		if got := e.used(t, "alice"); got != 5 {
			t.Errorf("expected used=5, got %d", got)
		}
	})

	t.Run("should reserve quota and enqueue a pending task", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.account(t, "alice", 5, 4)

		// --- Act ---
		res, err := e.uc.Submit(ctx, "alice", e.params())

		// --- Assert ---
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if res.Status != model.TaskStatusPending || res.TaskID == "" || res.Message == "" {
			t.Errorf("unexpected result %+v", res)
		}
		if got := e.used(t, "alice"); got != 5 {
			t.Errorf("expected used=5, got %d", got)
		}
		task := e.task(t, res.TaskID)
		if task.Params.StyleName != "anime" || task.Params.ModelName != "placeholder-v1" {
			t.Errorf("expected category names recorded, got %+v", task.Params)
		}
		if task.Params.Width != model.DefaultDimension || task.Params.Steps != model.DefaultSteps {
			t.Errorf("expected defaults applied, got %+v", task.Params)
		}
		st, _ := e.queue.Stats(ctx)
		if st.Waiting != 1 {
			t.Errorf("expected one waiting job, got %+v", st)
		}
	})

	t.Run("should admit exactly one of two concurrent submissions for the last unit", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.account(t, "alice", 5, 4)

		// --- Act ---
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = e.uc.Submit(ctx, "alice", e.params())
			}(i)
		}
		wg.Wait()

		// --- Assert ---
		var ok, exceeded int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrQuotaExceeded):
				exceeded++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}
		if ok != 1 || exceeded != 1 {
			t.Fatalf("expected 1 admitted and 1 exceeded, got %d and %d", ok, exceeded)
		}
		pending := model.TaskStatusPending
		tasks, _ := e.uc.List(ctx, "alice", &pending, 0)
		if len(tasks) != 1 {
			t.Errorf("expected one pending task, got %d", len(tasks))
		}
		if got := e.used(t, "alice"); got != 5 {
			t.Errorf("expected used=5, got %d", got)
		}
	})

	t.Run("should never overspend under heavy concurrency", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 3, 0)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.uc.Submit(ctx, "alice", e.params()); err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if admitted != 3 {
			t.Errorf("expected 3 admissions, got %d", admitted)
		}
		if got := e.used(t, "alice"); got != 3 {
			t.Errorf("expected used=3, got %d", got)
		}
	})

	t.Run("should reject invalid params before touching quota", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)

		p := e.params()
		p.Width = 100
		_, err := e.uc.Submit(ctx, "alice", p)

		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected used=0, got %d", got)
		}
	})

	t.Run("should report an unknown model as a validation error", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)

		p := e.params()
		p.ModelID = 999
		_, err := e.uc.Submit(ctx, "alice", p)

		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected used=0, got %d", got)
		}
	})

	t.Run("should report a missing account as quota exceeded", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.uc.Submit(ctx, "nobody", e.params())

		if !errors.Is(err, domain.ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}
		if list, _ := e.store.Tasks().ListByOwner(ctx, repository.NoTX, "nobody", nil, 10); len(list) != 0 {
			t.Errorf("expected no task row, got %d", len(list))
		}
	})

	t.Run("should compensate and fail the task when enqueue fails", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		var enqueued string
		e.queue.EnqueueFunc = func(_ context.Context, job model.QueueJob) (bool, error) {
			enqueued = job.ID
			return false, errors.New("connection refused")
		}

		// --- Act ---
		_, err := e.uc.Submit(ctx, "alice", e.params())

		// --- Assert ---
		if !errors.Is(err, domain.ErrQueueUnavailable) {
			t.Fatalf("expected ErrQueueUnavailable, got %v", err)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected reservation compensated, got used=%d", got)
		}
		task := e.task(t, enqueued)
		if task.Status != model.TaskStatusFailed {
			t.Errorf("expected failed task, got %s", task.Status)
		}
		if task.ErrorMessage == nil || *task.ErrorMessage != model.ErrMsgEnqueueFailed {
			t.Errorf("expected enqueue failure message, got %v", task.ErrorMessage)
		}
	})

	t.Run("should refuse over the rate limit and fail open when the limiter errors", func(t *testing.T) {
		calls := 0
		lim := &MockRateLimiter{AllowFunc: func(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
			calls++
			if key != "rate_limit:alice:submit" || limit != 2 {
				t.Errorf("unexpected limiter call %q %d", key, limit)
			}
			switch calls {
			case 1:
				return false, nil
			default:
				return false, errors.New("redis down")
			}
		}}
		e := newEnv(t, withLimiter(lim, 2))
		e.account(t, "alice", 5, 0)

		if _, err := e.uc.Submit(ctx, "alice", e.params()); !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if _, err := e.uc.Submit(ctx, "alice", e.params()); err != nil {
			t.Fatalf("expected fail-open admission, got %v", err)
		}
	})
}

func TestTaskUseCase_GetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("should estimate queue position from earlier pending tasks", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		e.account(t, "bob", 5, 0)

		first, _ := e.uc.Submit(ctx, "bob", e.params())
		time.Sleep(2 * time.Millisecond)
		second, err := e.uc.Submit(ctx, "alice", e.params())
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}

		view, err := e.uc.GetStatus(ctx, second.TaskID, "alice")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if view.QueuePosition == nil || *view.QueuePosition != 2 {
			t.Errorf("expected position 2, got %v", view.QueuePosition)
		}

		view, _ = e.uc.GetStatus(ctx, first.TaskID, "bob")
		if view.QueuePosition == nil || *view.QueuePosition != 1 {
			t.Errorf("expected position 1, got %v", view.QueuePosition)
		}
	})

	t.Run("should omit queue position once the task left pending", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())
		if _, err := e.store.Tasks().MarkProcessing(ctx, repository.NoTX, res.TaskID, 1, time.Now()); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}

		view, err := e.uc.GetStatus(ctx, res.TaskID, "alice")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if view.QueuePosition != nil {
			t.Errorf("expected no queue position, got %d", *view.QueuePosition)
		}
		if view.Task.Status != model.TaskStatusProcessing || view.Task.StartedAt == nil {
			t.Errorf("unexpected task %+v", view.Task)
		}
	})

	t.Run("should hide other owners' tasks", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())

		if _, err := e.uc.GetStatus(ctx, res.TaskID, "mallory"); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
		if _, err := e.uc.GetStatus(ctx, "missing", "alice"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestTaskUseCase_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("should cancel a pending task exactly once", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())

		// --- Act ---
		err := e.uc.Cancel(ctx, res.TaskID, "alice")
		again := e.uc.Cancel(ctx, res.TaskID, "alice")

		// --- Assert ---
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if !errors.Is(again, domain.ErrNotCancellable) {
			t.Errorf("expected second cancel rejected, got %v", again)
		}
		task := e.task(t, res.TaskID)
		if task.Status != model.TaskStatusFailed || *task.ErrorMessage != model.ErrMsgCancelled {
			t.Errorf("unexpected task %+v", task)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected single compensation, got used=%d", got)
		}
		st, _ := e.queue.Stats(ctx)
		if st.Waiting != 0 {
			t.Errorf("expected job removed, got %+v", st)
		}
	})

	t.Run("should compensate once under concurrent cancels", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = e.uc.Cancel(ctx, res.TaskID, "alice")
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else if !errors.Is(err, domain.ErrNotCancellable) {
				t.Errorf("unexpected error %v", err)
			}
		}
		if succeeded != 1 {
			t.Errorf("expected one successful cancel, got %d", succeeded)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected used=0, got %d", got)
		}
	})

	t.Run("should reject cancel of a processing task without changes", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())
		_, _ = e.store.Tasks().MarkProcessing(ctx, repository.NoTX, res.TaskID, 1, time.Now())

		err := e.uc.Cancel(ctx, res.TaskID, "alice")

		if !errors.Is(err, domain.ErrNotCancellable) {
			t.Fatalf("expected ErrNotCancellable, got %v", err)
		}
		if task := e.task(t, res.TaskID); task.Status != model.TaskStatusProcessing {
			t.Errorf("expected processing, got %s", task.Status)
		}
		if got := e.used(t, "alice"); got != 1 {
			t.Errorf("expected used=1, got %d", got)
		}
	})

	t.Run("should still cancel when queue removal fails", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())
		e.queue.RemoveFunc = func(context.Context, string) (bool, error) {
			return false, domain.ErrQueueUnavailable
		}

		if err := e.uc.Cancel(ctx, res.TaskID, "alice"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if got := e.used(t, "alice"); got != 0 {
			t.Errorf("expected used=0, got %d", got)
		}
	})

	t.Run("should forbid cancelling another owner's task", func(t *testing.T) {
		e := newEnv(t)
		e.account(t, "alice", 5, 0)
		res, _ := e.uc.Submit(ctx, "alice", e.params())

		if err := e.uc.Cancel(ctx, res.TaskID, "bob"); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
		if got := e.used(t, "alice"); got != 1 {
			t.Errorf("expected used=1, got %d", got)
		}
	})
}

func TestTaskUseCase_List(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.account(t, "alice", 60, 0)
	for i := 0; i < 55; i++ {
		if _, err := e.uc.Submit(ctx, "alice", e.params()); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	t.Run("should cap the page at 50 newest first", func(t *testing.T) {
		tasks, err := e.uc.List(ctx, "alice", nil, 500)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(tasks) != 50 {
			t.Fatalf("expected 50 tasks, got %d", len(tasks))
		}
		for i := 1; i < len(tasks); i++ {
			if tasks[i].CreatedAt.After(tasks[i-1].CreatedAt) {
				t.Fatalf("tasks not sorted newest first at %d", i)
			}
		}
	})
}
