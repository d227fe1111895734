package memory

import (
	"context"
	"sort"
	"time"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.TaskRepository = (*taskRepo)(nil)

type taskRepo struct{ s *Store }

func (s *Store) Tasks() *taskRepo { return &taskRepo{s: s} }

func cloneTask(t *model.Task) *model.Task {
	cp := *t
	if t.Params.Seed != nil {
		v := *t.Params.Seed
		cp.Params.Seed = &v
	}
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	if t.ErrorMessage != nil {
		m := *t.ErrorMessage
		cp.ErrorMessage = &m
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

func (r *taskRepo) Create(_ context.Context, tx repository.Tx, t *model.Task) error {
	mt, err := txOf(tx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := r.s.quotas[t.OwnerID]; !ok {
		return domain.ErrNotFound
	}
	r.s.tasks[t.ID] = cloneTask(t)
	remember(mt, func() { delete(r.s.tasks, t.ID) })
	return nil
}

func (r *taskRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Task, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (r *taskRepo) ListByOwner(_ context.Context, tx repository.Tx, ownerID string, status *model.TaskStatus, limit int) ([]*model.Task, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	r.s.mu.Lock()
	var out []*model.Task
	for _, t := range r.s.tasks {
		if t.OwnerID != ownerID || (status != nil && t.Status != *status) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *taskRepo) CountPendingBefore(_ context.Context, tx repository.Tx, before time.Time) (int, error) {
	if _, err := txOf(tx); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, t := range r.s.tasks {
		if t.Status == model.TaskStatusPending && t.CreatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (r *taskRepo) ListPendingOlderThan(_ context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Task, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	r.s.mu.Lock()
	var out []*model.Task
	for _, t := range r.s.tasks {
		if t.Status == model.TaskStatusPending && t.CreatedAt.Before(cutoff) {
			out = append(out, cloneTask(t))
		}
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// update applies fn to the stored task when pred accepts its current status.
func (r *taskRepo) update(tx repository.Tx, id string, pred func(model.TaskStatus) bool, fn func(t *model.Task)) (*model.Task, bool, error) {
	mt, err := txOf(tx)
	if err != nil {
		return nil, false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok || !pred(t.Status) {
		return nil, false, nil
	}
	prev := cloneTask(t)
	fn(t)
	remember(mt, func() { r.s.tasks[id] = prev })
	return cloneTask(t), true, nil
}

func (r *taskRepo) MarkProcessing(_ context.Context, tx repository.Tx, id string, attempt int, at time.Time) (bool, error) {
	_, ok, err := r.update(tx, id,
		func(s model.TaskStatus) bool { return model.CanTransition(s, model.TaskStatusProcessing) },
		func(t *model.Task) {
			t.Status = model.TaskStatusProcessing
			if t.StartedAt == nil {
				v := at
				t.StartedAt = &v
			}
			if attempt > t.AttemptCount {
				t.AttemptCount = attempt
			}
		})
	return ok, err
}

func (r *taskRepo) MarkCompleted(_ context.Context, tx repository.Tx, id string, result *model.TaskResult, at time.Time) (bool, error) {
	_, ok, err := r.update(tx, id,
		func(s model.TaskStatus) bool { return s == model.TaskStatusProcessing },
		func(t *model.Task) {
			res := *result
			v := at
			t.Status = model.TaskStatusCompleted
			t.Result = &res
			t.CompletedAt = &v
			t.ErrorMessage = nil
		})
	return ok, err
}

func (r *taskRepo) MarkFailed(_ context.Context, tx repository.Tx, id string, from []model.TaskStatus, msg string, attempts int, at time.Time) (string, bool, error) {
	t, ok, err := r.update(tx, id,
		func(s model.TaskStatus) bool {
			for _, f := range from {
				if s == f {
					return true
				}
			}
			return false
		},
		func(t *model.Task) {
			m := msg
			v := at
			t.Status = model.TaskStatusFailed
			t.ErrorMessage = &m
			t.CompletedAt = &v
			if attempts > t.AttemptCount {
				t.AttemptCount = attempts
			}
		})
	if err != nil || !ok {
		return "", false, err
	}
	return t.OwnerID, true, nil
}
