package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and hands the
// backend-specific handle to fn as tx. Repositories accept that handle, or nil
// for the non-transactional path.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		if _, err := quotas.Reserve(ctx, tx, ownerID); err != nil {
//			return err
//		}
//		return tasks.Create(ctx, tx, task)
//	})
//
// Returning an error from fn rolls back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
