package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.ArtifactRepository = (*artifactRepo)(nil)

type artifactRepo struct {
	pool *pgxpool.Pool
}

func NewArtifactRepo(pool *pgxpool.Pool) *artifactRepo {
	return &artifactRepo{pool: pool}
}

// CreateOnce uses task_id as the idempotency key.
func (r *artifactRepo) CreateOnce(ctx context.Context, tx repository.Tx, a *model.Artifact) (*model.Artifact, bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(a.Params)
	if err != nil {
		return nil, false, fmt.Errorf("%w: encode params: %v", domain.ErrInvalidArgument, err)
	}

	const q = `
INSERT INTO artifacts (id, task_id, owner_id, image_url, thumbnail_url, width, height, params, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (task_id) DO NOTHING;`

	tag, err := execSQL(ctx, r.pool, tx, q,
		a.ID, a.TaskID, a.OwnerID, a.ImageURL, a.ThumbnailURL, a.Width, a.Height, params, a.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		cp := *a
		return &cp, true, nil
	}
	existing, err := r.FindByTaskID(ctx, tx, a.TaskID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *artifactRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.Artifact, error) {
	const q = `
SELECT id, task_id, owner_id, image_url, thumbnail_url, width, height, params, created_at
FROM artifacts WHERE task_id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, taskID)
	if err != nil {
		return nil, err
	}
	var (
		a      model.Artifact
		params []byte
	)
	if err := row.Scan(&a.ID, &a.TaskID, &a.OwnerID, &a.ImageURL, &a.ThumbnailURL,
		&a.Width, &a.Height, &params, &a.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	if err := json.Unmarshal(params, &a.Params); err != nil {
		return nil, fmt.Errorf("%w: params: %v", domain.ErrReadDatabaseRow, err)
	}
	return &a, nil
}
