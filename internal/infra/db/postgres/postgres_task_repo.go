package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.TaskRepository = (*taskRepo)(nil)

type taskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *taskRepo {
	return &taskRepo{pool: pool}
}

const taskColumns = `task_id, owner_id, type, status, params, result, error_message, attempt_count, created_at, started_at, completed_at`

func (r *taskRepo) Create(ctx context.Context, tx repository.Tx, t *model.Task) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("%w: encode params: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
INSERT INTO tasks (task_id, owner_id, type, status, params, attempt_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err = execSQL(ctx, r.pool, tx, q,
		t.ID, t.OwnerID, t.Type, string(t.Status), params, t.AttemptCount, t.CreatedAt)
	return err
}

func (r *taskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *taskRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, status *model.TaskStatus, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		q := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3;`
		rows, err = queryRows(ctx, r.pool, tx, q, ownerID, string(*status), limit)
	} else {
		q := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2;`
		rows, err = queryRows(ctx, r.pool, tx, q, ownerID, limit)
	}
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (r *taskRepo) CountPendingBefore(ctx context.Context, tx repository.Tx, t time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM tasks WHERE status = 'pending' AND created_at < $1;`
	row, err := pickRow(ctx, r.pool, tx, q, t)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, scanErr(err)
	}
	return n, nil
}

func (r *taskRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 200
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (r *taskRepo) MarkProcessing(ctx context.Context, tx repository.Tx, id string, attempt int, at time.Time) (bool, error) {
	const q = `
UPDATE tasks
SET status = 'processing',
    started_at = COALESCE(started_at, $2),
    attempt_count = GREATEST(attempt_count, $3)
WHERE task_id = $1 AND status IN ('pending', 'processing');`

	tag, err := execSQL(ctx, r.pool, tx, q, id, at, attempt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id string, result *model.TaskResult, at time.Time) (bool, error) {
	res, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("%w: encode result: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
UPDATE tasks
SET status = 'completed', result = $2, completed_at = $3, error_message = NULL
WHERE task_id = $1 AND status = 'processing';`

	tag, err := execSQL(ctx, r.pool, tx, q, id, res, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, from []model.TaskStatus, msg string, attempts int, at time.Time) (string, bool, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	const q = `
UPDATE tasks
SET status = 'failed', error_message = $3, attempt_count = GREATEST(attempt_count, $4), completed_at = $5
WHERE task_id = $1 AND status = ANY($2)
RETURNING owner_id;`

	row, err := pickRow(ctx, r.pool, tx, q, id, allowed, msg, attempts, at)
	if err != nil {
		return "", false, err
	}
	var owner string
	if err := row.Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, scanErr(err)
	}
	return owner, true, nil
}

func collectTasks(rows pgx.Rows) ([]*model.Task, error) {
	defer rows.Close()
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t      model.Task
		status string
		params []byte
		result []byte
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Type, &status, &params, &result, &t.ErrorMessage,
		&t.AttemptCount, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, scanErr(err)
	}
	t.Status = model.TaskStatus(status)
	if err := json.Unmarshal(params, &t.Params); err != nil {
		return nil, fmt.Errorf("%w: params: %v", domain.ErrReadDatabaseRow, err)
	}
	if len(result) > 0 {
		var res model.TaskResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, fmt.Errorf("%w: result: %v", domain.ErrReadDatabaseRow, err)
		}
		t.Result = &res
	}
	return &t, nil
}
