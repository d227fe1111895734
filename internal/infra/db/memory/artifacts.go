package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.ArtifactRepository = (*artifactRepo)(nil)

type artifactRepo struct{ s *Store }

func (s *Store) Artifacts() *artifactRepo { return &artifactRepo{s: s} }

func (r *artifactRepo) CreateOnce(_ context.Context, tx repository.Tx, a *model.Artifact) (*model.Artifact, bool, error) {
	mt, err := txOf(tx)
	if err != nil {
		return nil, false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.artifacts[a.TaskID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	stored := *a
	r.s.artifacts[a.TaskID] = &stored
	remember(mt, func() { delete(r.s.artifacts, a.TaskID) })
	cp := stored
	return &cp, true, nil
}

func (r *artifactRepo) FindByTaskID(_ context.Context, tx repository.Tx, taskID string) (*model.Artifact, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.artifacts[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}
