// Package memory is an in-process implementation of the repository ports.
// It backs dev mode when no database url is configured and doubles as a fake
// in use case and worker tests.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

// Store holds all tables. Every operation takes mu for its own duration;
// transactions additionally serialize on txMu and roll back through an undo log.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	tasks      map[string]*model.Task
	quotas     map[string]*model.QuotaAccount
	artifacts  map[string]*model.Artifact // by task id
	categories map[int64]*model.Category
	nextCatID  int64
}

func NewStore() *Store {
	return &Store{
		tasks:      make(map[string]*model.Task),
		quotas:     make(map[string]*model.QuotaAccount),
		artifacts:  make(map[string]*model.Artifact),
		categories: make(map[int64]*model.Category),
	}
}

type memTx struct {
	undo []func()
}

func (t *memTx) record(fn func()) { t.undo = append(t.undo, fn) }

// txOf validates the handle the same way the pgx executor lookup does.
func txOf(tx repository.Tx) (*memTx, error) {
	if tx == nil {
		return nil, nil
	}
	mt, ok := tx.(*memTx)
	if !ok {
		return nil, domain.ErrInvalidExecContext
	}
	return mt, nil
}

// remember registers an undo step if the write happens inside a transaction.
func remember(mt *memTx, fn func()) {
	if mt != nil {
		mt.record(fn)
	}
}

type TxManager struct {
	s *Store
}

func (s *Store) TxManager() *TxManager { return &TxManager{s: s} }

var _ repository.TransactionManager = (*TxManager)(nil)

func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.s.txMu.Lock()
	defer m.s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{}
	if err := fn(ctx, tx); err != nil {
		m.s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.s.mu.Unlock()
		return err
	}
	return nil
}
