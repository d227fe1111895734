//go:build !integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

// mockInnerCategoryRepo mocks the database repository that the cache wraps.
type mockInnerCategoryRepo struct {
	FindEnabledFunc func(ctx context.Context, tx repository.Tx, id int64, kind model.CategoryKind) (*model.Category, error)
	SaveFunc        func(ctx context.Context, tx repository.Tx, c *model.Category) error
	calls           int
}

func (m *mockInnerCategoryRepo) FindEnabled(ctx context.Context, tx repository.Tx, id int64, kind model.CategoryKind) (*model.Category, error) {
	m.calls++
	return m.FindEnabledFunc(ctx, tx, id, kind)
}

func (m *mockInnerCategoryRepo) Save(ctx context.Context, tx repository.Tx, c *model.Category) error {
	return m.SaveFunc(ctx, tx, c)
}

func newCachedRepo(t *testing.T, inner repository.CategoryRepository) *categoryRepoCache {
	t.Helper()
	c, err := NewCategoryRepoCache(inner, 100, time.Minute)
	if err != nil {
		t.Fatalf("NewCategoryRepoCache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCategoryRepoCache(t *testing.T) {
	ctx := context.Background()
	anime := &model.Category{ID: 7, Kind: model.CategoryStyle, Name: "anime", Enabled: true}

	t.Run("FindEnabled should serve repeated lookups from cache", func(t *testing.T) {
		// --- Arrange ---
		inner := &mockInnerCategoryRepo{
			FindEnabledFunc: func(context.Context, repository.Tx, int64, model.CategoryKind) (*model.Category, error) {
				cp := *anime
				return &cp, nil
			},
		}
		c := newCachedRepo(t, inner)

		// --- Act ---
		if _, err := c.FindEnabled(ctx, repository.NoTX, 7, model.CategoryStyle); err != nil {
			t.Fatalf("first lookup: %v", err)
		}
		c.cache.Wait()
		got, err := c.FindEnabled(ctx, repository.NoTX, 7, model.CategoryStyle)

		// --- Assert ---
		if err != nil || got.Name != "anime" {
			t.Fatalf("expected anime from cache, got %v %v", got, err)
		}
		if inner.calls != 1 {
			t.Errorf("expected one inner call, got %d", inner.calls)
		}
	})

	t.Run("FindEnabled should key by kind", func(t *testing.T) {
		inner := &mockInnerCategoryRepo{
			FindEnabledFunc: func(_ context.Context, _ repository.Tx, id int64, kind model.CategoryKind) (*model.Category, error) {
				if kind == model.CategoryModel {
					return nil, domain.ErrNotFound
				}
				cp := *anime
				return &cp, nil
			},
		}
		c := newCachedRepo(t, inner)

		_, _ = c.FindEnabled(ctx, repository.NoTX, 7, model.CategoryStyle)
		c.cache.Wait()
		_, err := c.FindEnabled(ctx, repository.NoTX, 7, model.CategoryModel)

		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for the model kind, got %v", err)
		}
	})

	t.Run("FindEnabled should bypass the cache inside a transaction", func(t *testing.T) {
		inner := &mockInnerCategoryRepo{
			FindEnabledFunc: func(context.Context, repository.Tx, int64, model.CategoryKind) (*model.Category, error) {
				cp := *anime
				return &cp, nil
			},
		}
		c := newCachedRepo(t, inner)

		_, _ = c.FindEnabled(ctx, repository.NoTX, 7, model.CategoryStyle)
		c.cache.Wait()
		_, _ = c.FindEnabled(ctx, struct{}{}, 7, model.CategoryStyle)

		if inner.calls != 2 {
			t.Errorf("expected the tx lookup to reach the inner repo, got %d calls", inner.calls)
		}
	})

	t.Run("Save should invalidate the cached entry", func(t *testing.T) {
		enabled := true
		inner := &mockInnerCategoryRepo{
			FindEnabledFunc: func(context.Context, repository.Tx, int64, model.CategoryKind) (*model.Category, error) {
				if !enabled {
					return nil, domain.ErrNotFound
				}
				cp := *anime
				return &cp, nil
			},
			SaveFunc: func(context.Context, repository.Tx, *model.Category) error {
				enabled = false
				return nil
			},
		}
		c := newCachedRepo(t, inner)

		_, _ = c.FindEnabled(ctx, repository.NoTX, 7, model.CategoryStyle)
		c.cache.Wait()
		off := *anime
		off.Enabled = false
		if err := c.Save(ctx, repository.NoTX, &off); err != nil {
			t.Fatalf("Save: %v", err)
		}
		_, err := c.FindEnabled(ctx, repository.NoTX, 7, model.CategoryStyle)

		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected the disabled category to miss, got %v", err)
		}
	})
}
