package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.QuotaRepository = (*quotaRepo)(nil)

type quotaRepo struct {
	pool *pgxpool.Pool
}

func NewQuotaRepo(pool *pgxpool.Pool) *quotaRepo {
	return &quotaRepo{pool: pool}
}

func (r *quotaRepo) FindByOwner(ctx context.Context, tx repository.Tx, ownerID string) (*model.QuotaAccount, error) {
	const q = `SELECT owner_id, total_quota, used_quota, updated_at FROM quota_accounts WHERE owner_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, ownerID)
	if err != nil {
		return nil, err
	}
	var a model.QuotaAccount
	if err := row.Scan(&a.OwnerID, &a.TotalQuota, &a.UsedQuota, &a.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &a, nil
}

func (r *quotaRepo) Upsert(ctx context.Context, tx repository.Tx, a *model.QuotaAccount) error {
	a.UpdatedAt = time.Now().UTC()
	const q = `
INSERT INTO quota_accounts (owner_id, total_quota, used_quota, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id) DO UPDATE SET
  total_quota = EXCLUDED.total_quota,
  used_quota = EXCLUDED.used_quota,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q, a.OwnerID, a.TotalQuota, a.UsedQuota, a.UpdatedAt)
	return err
}

// Reserve is a single guarded UPDATE. Under concurrent callers Postgres
// serializes on the row lock and re-checks the predicate for the loser.
func (r *quotaRepo) Reserve(ctx context.Context, tx repository.Tx, ownerID string) (*model.QuotaAccount, error) {
	const q = `
UPDATE quota_accounts
SET used_quota = used_quota + 1, updated_at = NOW()
WHERE owner_id = $1 AND used_quota < total_quota
RETURNING owner_id, total_quota, used_quota, updated_at;`

	row, err := pickRow(ctx, r.pool, tx, q, ownerID)
	if err != nil {
		return nil, err
	}
	var a model.QuotaAccount
	if err := row.Scan(&a.OwnerID, &a.TotalQuota, &a.UsedQuota, &a.UpdatedAt); err != nil {
		err = scanErr(err)
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		// Distinguish an exhausted account from a missing one.
		if _, ferr := r.FindByOwner(ctx, tx, ownerID); ferr != nil {
			return nil, ferr
		}
		return nil, domain.ErrQuotaExceeded
	}
	return &a, nil
}

func (r *quotaRepo) Release(ctx context.Context, tx repository.Tx, ownerID string) error {
	const q = `
UPDATE quota_accounts
SET used_quota = used_quota - 1, updated_at = NOW()
WHERE owner_id = $1 AND used_quota > 0;`

	tag, err := execSQL(ctx, r.pool, tx, q, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByOwner(ctx, tx, ownerID); err != nil {
			return err
		}
	}
	return nil
}
