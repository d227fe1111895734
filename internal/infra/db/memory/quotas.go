package memory

import (
	"context"
	"time"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/repository"
)

var _ repository.QuotaRepository = (*quotaRepo)(nil)

type quotaRepo struct{ s *Store }

func (s *Store) Quotas() *quotaRepo { return &quotaRepo{s: s} }

func (r *quotaRepo) FindByOwner(_ context.Context, tx repository.Tx, ownerID string) (*model.QuotaAccount, error) {
	if _, err := txOf(tx); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.quotas[ownerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *quotaRepo) Upsert(_ context.Context, tx repository.Tx, a *model.QuotaAccount) error {
	mt, err := txOf(tx)
	if err != nil {
		return err
	}
	if a.UsedQuota < 0 || a.UsedQuota > a.TotalQuota {
		return domain.ErrQuotaExceeded
	}
	a.UpdatedAt = time.Now().UTC()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.quotas[a.OwnerID]
	cp := *a
	r.s.quotas[a.OwnerID] = &cp
	remember(mt, func() {
		if existed {
			r.s.quotas[a.OwnerID] = prev
		} else {
			delete(r.s.quotas, a.OwnerID)
		}
	})
	return nil
}

func (r *quotaRepo) Reserve(_ context.Context, tx repository.Tx, ownerID string) (*model.QuotaAccount, error) {
	return r.adjust(tx, ownerID, +1)
}

func (r *quotaRepo) Release(_ context.Context, tx repository.Tx, ownerID string) error {
	_, err := r.adjust(tx, ownerID, -1)
	return err
}

func (r *quotaRepo) adjust(tx repository.Tx, ownerID string, delta int) (*model.QuotaAccount, error) {
	mt, err := txOf(tx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.quotas[ownerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := a.UsedQuota + delta
	switch {
	case next > a.TotalQuota:
		return nil, domain.ErrQuotaExceeded
	case next < 0:
		cp := *a
		return &cp, nil
	}
	prev := *a
	a.UsedQuota = next
	a.UpdatedAt = time.Now().UTC()
	remember(mt, func() { *r.s.quotas[ownerID] = prev })
	cp := *a
	return &cp, nil
}
