package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/infra/logging"
)

// CatalogUseCase manages the style and model catalogs and quota grants.
type CatalogUseCase struct {
	categories repository.CategoryRepository
	quotas     repository.QuotaRepository
	tm         repository.TransactionManager
	log        *zerolog.Logger
}

func NewCatalogUseCase(
	categories repository.CategoryRepository,
	quotas repository.QuotaRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *CatalogUseCase {
	l := logger.With().Str("component", "CatalogUseCase").Logger()
	return &CatalogUseCase{categories: categories, quotas: quotas, tm: tm, log: &l}
}

// CatalogSeed is the initial catalog and the owners granted quota.
type CatalogSeed struct {
	Styles []string
	Models []string
	Grants map[string]int // owner id -> total quota
}

// DefaultCatalogSeed matches the generators shipped with the service.
func DefaultCatalogSeed() CatalogSeed {
	return CatalogSeed{
		Styles: []string{"photorealistic", "anime", "watercolor", "pixel-art"},
		Models: []string{"placeholder-v1", "imagen-3.0-generate-002", "dall-e-3"},
	}
}

func (u *CatalogUseCase) SaveCategory(ctx context.Context, kind model.CategoryKind, name string, enabled bool, sortOrder int) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" || (kind != model.CategoryStyle && kind != model.CategoryModel) {
		return nil, domain.ErrInvalidArgument
	}
	c := &model.Category{Kind: kind, Name: name, Enabled: enabled, SortOrder: sortOrder}
	if err := u.categories.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GrantQuota sets an owner's total quota, creating the account when missing.
// Used quota is preserved; a total below it is rejected.
func (u *CatalogUseCase) GrantQuota(ctx context.Context, ownerID string, total int) (*model.QuotaAccount, error) {
	defer logging.TraceDuration(u.log, "CatalogUseCase.GrantQuota")()
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" || total < 0 {
		return nil, domain.ErrInvalidArgument
	}

	var out *model.QuotaAccount
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acc, err := u.quotas.FindByOwner(ctx, tx, ownerID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			acc = &model.QuotaAccount{OwnerID: ownerID}
		case err != nil:
			return err
		}
		if total < acc.UsedQuota {
			return fmt.Errorf("%w: total %d is below used %d", domain.ErrInvalidArgument, total, acc.UsedQuota)
		}
		acc.TotalQuota = total
		if err := u.quotas.Upsert(ctx, tx, acc); err != nil {
			return err
		}
		out = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("owner_id", ownerID).Int("total", total).Int("used", out.UsedQuota).Msg("quota granted")
	return out, nil
}

// Seed saves every category in s in order and applies the quota grants.
// It is safe to run repeatedly.
func (u *CatalogUseCase) Seed(ctx context.Context, s CatalogSeed) error {
	for i, name := range s.Styles {
		if _, err := u.SaveCategory(ctx, model.CategoryStyle, name, true, i); err != nil {
			return fmt.Errorf("style %q: %w", name, err)
		}
	}
	for i, name := range s.Models {
		if _, err := u.SaveCategory(ctx, model.CategoryModel, name, true, i); err != nil {
			return fmt.Errorf("model %q: %w", name, err)
		}
	}
	for owner, total := range s.Grants {
		if _, err := u.GrantQuota(ctx, owner, total); err != nil {
			return fmt.Errorf("grant %q: %w", owner, err)
		}
	}
	return nil
}
