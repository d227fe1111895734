package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.CategoryRepository = (*categoryRepo)(nil)

type categoryRepo struct {
	pool *pgxpool.Pool
}

func NewCategoryRepo(pool *pgxpool.Pool) *categoryRepo {
	return &categoryRepo{pool: pool}
}

func (r *categoryRepo) FindEnabled(ctx context.Context, tx repository.Tx, id int64, kind model.CategoryKind) (*model.Category, error) {
	const q = `
SELECT id, kind, name, enabled, sort_order, created_at
FROM categories
WHERE id = $1 AND kind = $2 AND enabled = TRUE;`

	row, err := pickRow(ctx, r.pool, tx, q, id, string(kind))
	if err != nil {
		return nil, err
	}
	var (
		c    model.Category
		kstr string
	)
	if err := row.Scan(&c.ID, &kstr, &c.Name, &c.Enabled, &c.SortOrder, &c.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	c.Kind = model.CategoryKind(kstr)
	return &c, nil
}

// Save upserts by (kind, name) and fills in the id.
func (r *categoryRepo) Save(ctx context.Context, tx repository.Tx, c *model.Category) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO categories (kind, name, enabled, sort_order, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (kind, name) DO UPDATE SET
  enabled = EXCLUDED.enabled,
  sort_order = EXCLUDED.sort_order
RETURNING id;`

	row, err := pickRow(ctx, r.pool, tx, q, string(c.Kind), c.Name, c.Enabled, c.SortOrder, c.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&c.ID); err != nil {
		return scanErr(err)
	}
	return nil
}
