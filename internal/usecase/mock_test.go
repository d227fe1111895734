//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/infra/db/memory"
	"image-task-pipeline/internal/infra/queue"
	"image-task-pipeline/internal/usecase"
)

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// ---- MockJobQueue ----

// MockJobQueue delegates to an in-memory queue unless a Func hook is set.
type MockJobQueue struct {
	*queue.MemoryQueue

	EnqueueFunc func(ctx context.Context, job model.QueueJob) (bool, error)
	RemoveFunc  func(ctx context.Context, jobID string) (bool, error)
}

var _ adapter.JobQueue = (*MockJobQueue)(nil)

func newMockJobQueue() *MockJobQueue {
	return &MockJobQueue{MemoryQueue: queue.NewMemoryQueue(queue.Options{})}
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job model.QueueJob) (bool, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, job)
	}
	return m.MemoryQueue.Enqueue(ctx, job)
}

func (m *MockJobQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, jobID)
	}
	return m.MemoryQueue.Remove(ctx, jobID)
}

// ---- MockRateLimiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

var _ adapter.RateLimiter = (*MockRateLimiter)(nil)

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

// ---- fixture ----

type env struct {
	store   *memory.Store
	queue   *MockJobQueue
	ledger  *usecase.QuotaLedger
	uc      usecase.TaskUseCase
	styleID int64
	modelID int64
}

type envOption func(*envConfig)

type envConfig struct {
	limiter adapter.RateLimiter
	limit   usecase.SubmitLimit
}

func withLimiter(l adapter.RateLimiter, limit int) envOption {
	return func(c *envConfig) {
		c.limiter = l
		c.limit = usecase.SubmitLimit{Limit: limit, Window: time.Minute}
	}
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	var cfg envConfig
	for _, o := range opts {
		o(&cfg)
	}
	ctx := context.Background()
	store := memory.NewStore()

	style := &model.Category{Kind: model.CategoryStyle, Name: "anime", Enabled: true}
	mdl := &model.Category{Kind: model.CategoryModel, Name: "placeholder-v1", Enabled: true}
	for _, c := range []*model.Category{style, mdl} {
		if err := store.Categories().Save(ctx, repository.NoTX, c); err != nil {
			t.Fatalf("seed category: %v", err)
		}
	}

	q := newMockJobQueue()
	ledger := usecase.NewQuotaLedger(store.Quotas(), store.Tasks(), store.TxManager(), newLogger())
	uc := usecase.NewTaskUseCase(store.Tasks(), store.Categories(), store.TxManager(), ledger, q,
		cfg.limiter, cfg.limit, false, newLogger())
	return &env{store: store, queue: q, ledger: ledger, uc: uc, styleID: style.ID, modelID: mdl.ID}
}

func (e *env) account(t *testing.T, owner string, total, used int) {
	t.Helper()
	acc := &model.QuotaAccount{OwnerID: owner, TotalQuota: total, UsedQuota: used}
	if err := e.store.Quotas().Upsert(context.Background(), repository.NoTX, acc); err != nil {
		t.Fatalf("upsert quota: %v", err)
	}
}

func (e *env) used(t *testing.T, owner string) int {
	t.Helper()
	acc, err := e.store.Quotas().FindByOwner(context.Background(), repository.NoTX, owner)
	if err != nil {
		t.Fatalf("find quota: %v", err)
	}
	return acc.UsedQuota
}

func (e *env) params() model.TaskParams {
	return model.TaskParams{Prompt: "a fox in the snow", StyleID: e.styleID, ModelID: e.modelID}
}

func (e *env) task(t *testing.T, id string) *model.Task {
	t.Helper()
	got, err := e.store.Tasks().FindByID(context.Background(), repository.NoTX, id)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	return got
}
