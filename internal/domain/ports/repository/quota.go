package repository

import (
	"context"

	"image-task-pipeline/internal/domain/model"
)

type QuotaRepository interface {
	FindByOwner(ctx context.Context, tx Tx, ownerID string) (*model.QuotaAccount, error)
	Upsert(ctx context.Context, tx Tx, a *model.QuotaAccount) error

	// Reserve increments used quota by one if and only if used < total.
	// Returns domain.ErrQuotaExceeded or domain.ErrNotFound otherwise.
	Reserve(ctx context.Context, tx Tx, ownerID string) (*model.QuotaAccount, error)
	// Release decrements used quota by one, never below zero.
	Release(ctx context.Context, tx Tx, ownerID string) error
}
