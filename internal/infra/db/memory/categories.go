package memory

import (
	"context"
	"time"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.CategoryRepository = (*categoryRepo)(nil)

type categoryRepo struct{ s *Store }

func (s *Store) Categories() *categoryRepo { return &categoryRepo{s: s} }

func (r *categoryRepo) FindEnabled(_ context.Context, tx repository.Tx, id int64, kind model.CategoryKind) (*model.Category, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.categories[id]
	if !ok || c.Kind != kind || !c.Enabled {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Save upserts by (kind, name) and fills in the id.
func (r *categoryRepo) Save(_ context.Context, tx repository.Tx, c *model.Category) error {
	mt, err := txOf(tx)
	if err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, existing := range r.s.categories {
		if existing.Kind == c.Kind && existing.Name == c.Name {
			prev := *existing
			existing.Enabled = c.Enabled
			existing.SortOrder = c.SortOrder
			c.ID = id
			remember(mt, func() { *r.s.categories[id] = prev })
			return nil
		}
	}
	r.s.nextCatID++
	c.ID = r.s.nextCatID
	cp := *c
	r.s.categories[c.ID] = &cp
	id := c.ID
	remember(mt, func() { delete(r.s.categories, id) })
	return nil
}
