package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"image-task-pipeline/internal/config"
	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/domain/ports/repository"
	"image-task-pipeline/internal/infra/adapters/storage"
	"image-task-pipeline/internal/infra/api"
	"image-task-pipeline/internal/infra/db/memory"
	pg "image-task-pipeline/internal/infra/db/postgres"
	"image-task-pipeline/internal/infra/logging"
	"image-task-pipeline/internal/infra/metrics"
	"image-task-pipeline/internal/infra/queue"
	red "image-task-pipeline/internal/infra/redis"
	"image-task-pipeline/internal/infra/sched"
	"image-task-pipeline/internal/infra/worker"
	"image-task-pipeline/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

// repos groups the repository ports so either backend can be wired.
type repos struct {
	tasks      repository.TaskRepository
	quotas     repository.QuotaRepository
	artifacts  repository.ArtifactRepository
	categories repository.CategoryRepository
	tm         repository.TransactionManager
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (in-memory backends, verbose logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	var checks []api.HealthCheck

	// ---- Storage backend ----
	var (
		store repos
		pool  *pgxpool.Pool
	)
	if cfg.Database.URL != "" {
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx, cfg.Database.URL); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		p, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer p.Close()
		pool = p

		cats, err := pg.NewCategoryRepoCache(pg.NewCategoryRepo(p), cfg.Cache.MaxCost, cfg.Cache.CategoryTTL)
		if err != nil {
			return fmt.Errorf("category cache: %w", err)
		}
		defer cats.Close()
		store = repos{
			tasks:      pg.NewTaskRepo(p),
			quotas:     pg.NewQuotaRepo(p),
			artifacts:  pg.NewArtifactRepo(p),
			categories: cats,
			tm:         pg.NewTxManager(p),
		}
		checks = append(checks, api.HealthCheck{Name: "postgres", Ping: p.Ping})
	} else {
		logger.Warn().Msg("database.url is empty, using the in-memory store")
		m := memory.NewStore()
		store = repos{
			tasks:      m.Tasks(),
			quotas:     m.Quotas(),
			artifacts:  m.Artifacts(),
			categories: m.Categories(),
			tm:         m.TxManager(),
		}
	}

	// ---- Queue backend, limiter and locks ----
	var (
		jobs    adapter.JobQueue
		limiter adapter.RateLimiter
		locker  adapter.Locker
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rc.Close() }()
		limiter = red.NewRateLimiter(rc)
		locker = red.NewLocker(rc)
		checks = append(checks, api.HealthCheck{Name: "redis", Ping: rc.Ping})
		if cfg.Queue.Backend == "redis" {
			jobs = red.NewJobQueue(rc, red.JobQueueOptions{
				Prefix:        cfg.Queue.KeyPrefix,
				KeepCompleted: cfg.Queue.KeepCompleted,
				KeepFailed:    cfg.Queue.KeepFailed,
				Retention:     cfg.Queue.Retention,
			})
		}
	}
	if jobs == nil {
		logger.Warn().Msg("using the in-memory job queue, jobs do not survive a restart")
		jobs = queue.NewMemoryQueue(queue.Options{
			KeepCompleted: cfg.Queue.KeepCompleted,
			KeepFailed:    cfg.Queue.KeepFailed,
			Retention:     cfg.Queue.Retention,
		})
	}

	// ---- Use cases ----
	ledger := usecase.NewQuotaLedger(store.quotas, store.tasks, store.tm, logger)
	taskUC := usecase.NewTaskUseCase(store.tasks, store.categories, store.tm, ledger, jobs, limiter,
		usecase.SubmitLimit{Limit: cfg.Limits.SubmitPerMinute, Window: time.Minute},
		cfg.Runtime.Dev, logger)

	if pool == nil && cfg.Runtime.Dev {
		catalog := usecase.NewCatalogUseCase(store.categories, store.quotas, store.tm, logger)
		seed := usecase.DefaultCatalogSeed()
		seed.Grants = map[string]int{devOwner: devQuota}
		if err := catalog.Seed(ctx, seed); err != nil {
			return fmt.Errorf("seed dev catalog: %w", err)
		}
		logger.Info().Str("owner_id", devOwner).Int("quota", devQuota).Msg("dev catalog seeded")
	}

	// ---- Generation ----
	gen, err := buildGenerator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	var (
		files    adapter.ObjectStorage
		filesDir string
	)
	if cfg.Storage.UseMinIO() {
		m := cfg.Storage.MinIO
		ms, err := storage.NewMinioStorage(storage.MinioOptions{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Region:    m.Region,
			UseSSL:    m.UseSSL,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		files = ms
		checks = append(checks, api.HealthCheck{Name: "minio", Ping: ms.Ping})
	} else {
		if cfg.Storage.Backend == "minio" {
			logger.Warn().Msg("storage.minio is incomplete, falling back to local storage")
		}
		ls, err := storage.NewLocalStorage(cfg.Storage.LocalDir, cfg.Storage.PublicURL)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		files = ls
		filesDir = ls.Root()
	}
	policy := worker.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Queue.MaxAttempts
	policy.BaseDelay = cfg.Queue.BackoffBase
	processor := worker.NewGenerationProcessor(jobs, store.tasks, store.artifacts, ledger, gen, files, policy,
		worker.ProcessorOptions{
			PollInterval: cfg.Worker.PollInterval,
			JobTimeout:   cfg.Worker.JobTimeout,
			Lease:        cfg.Worker.Lease,
		}, logger)
	workers := worker.NewPool(cfg.Worker.Concurrency, logger)

	// ---- HTTP ----
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// Only reachable in dev mode; tokens die with the process.
		secret = uuid.NewString()
		logger.Warn().Msg("auth.jwt_secret is empty, using a per-process secret")
	}
	auth := api.NewAuthenticator(secret, cfg.Auth.Issuer, logger)
	if cfg.Runtime.Dev {
		if tok, err := auth.Mint(devOwner, 24*time.Hour); err == nil {
			logger.Info().Str("owner_id", devOwner).Str("token", tok).Msg("dev bearer token")
		}
	}
	opts := api.Options{RequestTimeout: cfg.HTTP.RequestTimeout, Checks: checks}
	if cfg.Storage.Serve && filesDir != "" {
		opts.FilesDir = filesDir
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewServer(taskUC, auth, opts, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutCtx)
	})
	g.Go(func() error {
		workers.Start(gctx)
		processor.Start(gctx, workers)
		workers.Stop()
		return nil
	})
	g.Go(func() error {
		return sched.NewLeaseReaper(cfg.Worker.ReaperInterval, jobs, locker, logger).Run(gctx)
	})
	g.Go(func() error {
		sched.NewPendingReconciler(store.tasks, jobs, locker,
			cfg.Worker.ReconcileInterval, cfg.Worker.ReconcileStaleAfter, logger).Start(gctx)
		return nil
	})
	if pool != nil {
		g.Go(func() error {
			pg.ReportPoolStats(gctx, pool, 15*time.Second)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

const (
	devOwner = "dev-user"
	devQuota = 100
)
