package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/infra/logging"
	"image-task-pipeline/internal/infra/metrics"
	"image-task-pipeline/internal/usecase"
)

type ProcessorOptions struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
	Lease        time.Duration
}

// GenerationProcessor drives one dequeued job through generation, storage and
// the artifact write, then settles the job with the queue.
type GenerationProcessor struct {
	queue     adapter.JobQueue
	tasks     repository.TaskRepository
	artifacts repository.ArtifactRepository
	ledger    *usecase.QuotaLedger
	generator adapter.ImageGenerator
	storage   adapter.ObjectStorage
	policy    RetryPolicy
	opts      ProcessorOptions
	log       *zerolog.Logger
}

func NewGenerationProcessor(
	queue adapter.JobQueue,
	tasks repository.TaskRepository,
	artifacts repository.ArtifactRepository,
	ledger *usecase.QuotaLedger,
	generator adapter.ImageGenerator,
	storage adapter.ObjectStorage,
	policy RetryPolicy,
	opts ProcessorOptions,
	logger *zerolog.Logger,
) *GenerationProcessor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	if opts.Lease <= opts.JobTimeout {
		opts.Lease = opts.JobTimeout + time.Minute
	}
	l := logger.With().Str("component", "GenerationProcessor").Logger()
	return &GenerationProcessor{
		queue:     queue,
		tasks:     tasks,
		artifacts: artifacts,
		ledger:    ledger,
		generator: generator,
		storage:   storage,
		policy:    policy,
		opts:      opts,
		log:       &l,
	}
}

// Start feeds the pool with drain tasks until ctx is done.
// This should be run in a goroutine.
func (p *GenerationProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Int("workers", pool.Size()).Msg("generation processor started")
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("generation processor stopping")
			return
		case <-ticker.C:
			for i := 0; i < pool.Size(); i++ {
				if err := pool.Submit(p.drain); err != nil {
					break
				}
			}
		}
	}
}

// drain processes jobs until the queue has nothing ready.
func (p *GenerationProcessor) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		ok, err := p.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}

// ProcessNext handles at most one job. It returns false when no job was ready.
func (p *GenerationProcessor) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.queue.Dequeue(ctx, p.opts.Lease)
	if errors.Is(err, domain.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ctx = logging.WithTaskID(ctx, job.ID)
	log := logging.With(ctx, p.log)
	// Settling the job must survive shutdown of the caller.
	settleCtx := context.WithoutCancel(ctx)

	// The last allowed attempt lost its lease mid-run; do not call the model again.
	if p.policy.Exhausted(job.Attempts - 1) {
		ran := job.Attempts - 1
		p.terminate(settleCtx, log, job, ran, fmt.Errorf("%w: attempt %d did not finish", domain.ErrLeaseLost, ran))
		return true, nil
	}

	ok, err := p.tasks.MarkProcessing(ctx, repository.NoTX, job.ID, job.Attempts, time.Now().UTC())
	if err != nil {
		p.fail(settleCtx, log, job, err)
		return true, nil
	}
	if !ok {
		// Cancelled or already finished; nothing to run.
		log.Info().Int("attempt", job.Attempts).Msg("task no longer runnable, dropping job")
		if err := p.queue.Ack(settleCtx, job); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
			log.Error().Err(err).Msg("ack skipped job")
		}
		return true, nil
	}

	start := time.Now()
	log.Info().Int("attempt", job.Attempts).Str("model", job.Payload.Params.ModelName).Msg("processing task")
	err = p.run(ctx, job)
	metrics.ObserveTaskAttempt(time.Since(start).Seconds())
	if err != nil {
		p.fail(settleCtx, log, job, err)
		return true, nil
	}

	if err := p.queue.Ack(settleCtx, job); err != nil {
		log.Warn().Err(err).Msg("ack after completion")
	}
	metrics.IncTaskFinished(string(model.TaskStatusCompleted))
	log.Info().Dur("duration", time.Since(start)).Msg("task completed")
	return true, nil
}

func (p *GenerationProcessor) run(ctx context.Context, job *model.QueueJob) error {
	payload := job.Payload

	// A previous attempt may have stored the artifact and died before completing.
	art, err := p.artifacts.FindByTaskID(ctx, repository.NoTX, job.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		art, err = p.generate(ctx, payload)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	ok, err := p.tasks.MarkCompleted(ctx, repository.NoTX, job.ID, art.Result(), time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		p.log.Warn().Str("task_id", job.ID).Msg("task left processing before completion")
	}
	return nil
}

// generate produces and stores the image, then writes the artifact once.
func (p *GenerationProcessor) generate(ctx context.Context, payload model.JobPayload) (*model.Artifact, error) {
	jctx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
	defer cancel()

	params := payload.Params
	if params.Seed == nil {
		seed := rand.Int64N(math.MaxInt32)
		params.Seed = &seed
	}

	img, err := p.generator.Generate(jctx, adapter.GenerateRequest{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Model:          params.ModelName,
		Style:          params.StyleName,
		Width:          params.Width,
		Height:         params.Height,
		Steps:          params.Steps,
		Guidance:       params.Guidance,
		Seed:           *params.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %v", domain.ErrTransientService, err)
	}

	imageURL, err := p.storage.Store(jctx, img.Data, payload.OwnerID, img.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: store image: %v", domain.ErrTransientService, err)
	}
	thumbURL, err := p.storage.StoreThumbnail(jctx, img.Data, payload.OwnerID, img.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: store thumbnail: %v", domain.ErrTransientService, err)
	}

	art, created, err := p.artifacts.CreateOnce(ctx, repository.NoTX, &model.Artifact{
		TaskID:       payload.TaskID,
		OwnerID:      payload.OwnerID,
		ImageURL:     imageURL,
		ThumbnailURL: thumbURL,
		Width:        params.Width,
		Height:       params.Height,
		Params:       params,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		p.log.Info().Str("task_id", payload.TaskID).Msg("artifact already present, reusing")
	}
	return art, nil
}

// fail retries the job or, when attempts are used up, fails the task and
// compensates quota before failing the job.
func (p *GenerationProcessor) fail(ctx context.Context, log *zerolog.Logger, job *model.QueueJob, cause error) {
	if !p.policy.Exhausted(job.Attempts) {
		delay := p.policy.Backoff(job.Attempts)
		log.Warn().Err(cause).Int("attempt", job.Attempts).Dur("retry_in", delay).Msg("attempt failed")
		metrics.IncJobRetry()
		if err := p.queue.Retry(ctx, job, delay, cause.Error()); err != nil {
			log.Error().Err(err).Msg("schedule retry")
		}
		return
	}
	p.terminate(ctx, log, job, job.Attempts, cause)
}

// terminate fails the task with compensation, then fails the job.
func (p *GenerationProcessor) terminate(ctx context.Context, log *zerolog.Logger, job *model.QueueJob, attempts int, cause error) {
	log.Error().Err(cause).Int("attempt", attempts).Msg("attempts exhausted")
	_, err := p.ledger.FailTask(ctx, job.ID,
		[]model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing},
		cause.Error(), attempts, usecase.CompensateTerminalFailure)
	if err != nil {
		// Keep the job alive so a later delivery can settle the task.
		log.Error().Err(err).Msg("terminal failure handler")
		if rerr := p.queue.Retry(ctx, job, p.policy.Backoff(job.Attempts), cause.Error()); rerr != nil {
			log.Error().Err(rerr).Msg("schedule retry")
		}
		return
	}
	if err := p.queue.Fail(ctx, job, fmt.Sprintf("%v: %v", domain.ErrTerminalFailure, cause)); err != nil {
		log.Error().Err(err).Msg("fail job")
	}
}
