package repository

import (
	"context"

	"image-task-pipeline/internal/domain/model"
)

type ArtifactRepository interface {
	// CreateOnce inserts a for its task unless one exists already and returns
	// the stored artifact with created=false in that case.
	CreateOnce(ctx context.Context, tx Tx, a *model.Artifact) (stored *model.Artifact, created bool, err error)
	FindByTaskID(ctx context.Context, tx Tx, taskID string) (*model.Artifact, error)
}
