package repository

import (
	"context"

	"image-task-pipeline/internal/domain/model"
)

type CategoryRepository interface {
	// FindEnabled returns domain.ErrNotFound for missing or disabled categories.
	FindEnabled(ctx context.Context, tx Tx, id int64, kind model.CategoryKind) (*model.Category, error)
	Save(ctx context.Context, tx Tx, c *model.Category) error
}
