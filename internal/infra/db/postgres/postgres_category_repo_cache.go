package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/infra/metrics"
)

var _ repository.CategoryRepository = (*categoryRepoCache)(nil)

// categoryRepoCache keeps enabled categories in an in-process ristretto cache.
// Misses and lookups inside a transaction go to the inner repository.
type categoryRepoCache struct {
	inner repository.CategoryRepository
	cache *ristretto.Cache[string, model.Category]
	ttl   time.Duration
}

// NewCategoryRepoCache wraps inner. maxItems bounds the number of cached categories.
func NewCategoryRepoCache(inner repository.CategoryRepository, maxItems int64, ttl time.Duration) (*categoryRepoCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, model.Category]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &categoryRepoCache{inner: inner, cache: c, ttl: ttl}, nil
}

func categoryKey(id int64, kind model.CategoryKind) string {
	return fmt.Sprintf("category:%s:%d", kind, id)
}

func (d *categoryRepoCache) FindEnabled(ctx context.Context, tx repository.Tx, id int64, kind model.CategoryKind) (*model.Category, error) {
	key := categoryKey(id, kind)
	if tx == nil {
		if c, ok := d.cache.Get(key); ok {
			metrics.IncCacheRequest("category", "hit")
			return &c, nil
		}
	}
	metrics.IncCacheRequest("category", "miss")

	c, err := d.inner.FindEnabled(ctx, tx, id, kind)
	if err != nil {
		return nil, err
	}
	d.cache.SetWithTTL(key, *c, 1, d.ttl)
	return c, nil
}

func (d *categoryRepoCache) Save(ctx context.Context, tx repository.Tx, c *model.Category) error {
	if err := d.inner.Save(ctx, tx, c); err != nil {
		return err
	}
	d.cache.Del(categoryKey(c.ID, c.Kind))
	return nil
}

func (d *categoryRepoCache) Close() { d.cache.Close() }
