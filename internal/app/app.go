// Package app initializes and holds the long-lived application services,
// acting as the dependency injection container for the extraction service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/analyzer"
	"github.com/webextract/webextract/internal/api"
	clocksys "github.com/webextract/webextract/internal/clock/system"
	"github.com/webextract/webextract/internal/config"
	"github.com/webextract/webextract/internal/executor"
	"github.com/webextract/webextract/internal/fetch"
	"github.com/webextract/webextract/internal/gen"
	"github.com/webextract/webextract/internal/hash/sha256"
	"github.com/webextract/webextract/internal/id/uuid"
	"github.com/webextract/webextract/internal/jobs"
	"github.com/webextract/webextract/internal/learning"
	"github.com/webextract/webextract/internal/logging"
	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/normalizer"
	"github.com/webextract/webextract/internal/patterns"
	"github.com/webextract/webextract/internal/pipeline"
	"github.com/webextract/webextract/internal/publisher"
	queuemem "github.com/webextract/webextract/internal/queue/memory"
	"github.com/webextract/webextract/internal/status"
	"github.com/webextract/webextract/internal/storage"
	gcsstore "github.com/webextract/webextract/internal/storage/gcs"
	localstore "github.com/webextract/webextract/internal/storage/local"
	storemem "github.com/webextract/webextract/internal/storage/memory"
	pgstore "github.com/webextract/webextract/internal/storage/postgres"
	"github.com/webextract/webextract/internal/strategy"
	"github.com/webextract/webextract/internal/worker"
)

// App holds the wired services for one running instance.
type App struct {
	Cfg        config.Config
	Logger     *zap.Logger
	Manager    *jobs.Manager
	Pool       *worker.Pool
	Aggregator *status.Aggregator
	Server     *api.Server

	queue     *queuemem.Queue
	pgPool    *pgxpool.Pool
	redis     *redis.Client
	renderer  *fetch.Renderer
	publisher pipeline.Publisher
}

// New builds the service graph from configuration, failing fast when any
// external dependency cannot be reached.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{Cfg: cfg, Logger: logger}

	clk := clocksys.New()
	idGen := uuid.New()
	hasher := sha256.New()

	a.queue = queuemem.NewQueue()

	// Relational stores.
	var (
		jobStore    pipeline.JobStore
		recordStore pipeline.RecordStore
		exporter    pipeline.Exporter
	)
	switch cfg.Database.Provider {
	case "postgres":
		logger.Info("connecting to postgres")
		pool, err := pgstore.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.pgPool = pool
		jobStore = pgstore.NewJobStore(pool)
		recordStore = pgstore.NewRecordStore(pool, logger)
		if cfg.Database.ExportEnabled {
			logger.Info("export tables enabled")
			exporter = pgstore.NewExportStore(pool, logger)
		}
	default:
		logger.Info("using in-memory stores, data will not survive restarts")
		jobStore = storemem.NewJobStore()
		recordStore = storemem.NewRecordStore()
	}

	// Similarity store.
	var patternStore pipeline.PatternStore
	switch cfg.Patterns.Provider {
	case "redis":
		logger.Info("connecting to redis", zap.String("addr", cfg.Patterns.RedisAddr))
		client := redis.NewClient(&redis.Options{Addr: cfg.Patterns.RedisAddr})
		store, err := patterns.NewRedisStore(ctx, client, cfg.Patterns.KeyPrefix, int64(cfg.Patterns.ScanLimit))
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		patternStore = store
	default:
		patternStore = patterns.NewMemoryStore()
	}

	// Blob storage for raw HTML snapshots.
	var blobs pipeline.BlobStore
	switch cfg.Storage.Provider {
	case "gcs":
		logger.Info("using GCS snapshot storage", zap.String("bucket", cfg.Storage.GCSBucket))
		blobs, err = gcsstore.NewBlobStore(ctx, cfg.Storage.GCSBucket, logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
	case "local":
		blobs, err = localstore.NewBlobStore(cfg.Storage.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
	case "memory":
		blobs = storemem.NewBlobStore()
	default:
		logger.Info("snapshot storage disabled")
		blobs = storage.NoOpBlobStore{}
	}

	// Completion events.
	switch cfg.Events.Provider {
	case "pubsub":
		logger.Info("using Pub/Sub events", zap.String("project", cfg.Events.ProjectID))
		ps, err := publisher.NewPubSub(ctx, cfg.Events.ProjectID, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		a.publisher = ps
	case "memory":
		a.publisher = publisher.NewMemory()
	default:
		a.publisher = publisher.NewNoOp()
	}

	// Generation backends in failover order.
	generator := buildGenerator(cfg, logger)

	// Fetch stack: colly probe plus optional headless renderer.
	probe := fetch.NewCollyFetcher(fetch.CollyConfig{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		MaxBytes:  cfg.Fetch.MaxBodyBytes,
	})
	if cfg.Headless.Enabled {
		renderer, err := fetch.NewRenderer(fetch.RendererConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		a.renderer = renderer
	}
	var fetcher pipeline.Fetcher = fetch.NewClient(probe, rendererOrNil(a.renderer))

	// Pipeline stages.
	embedder := learning.NewEmbedder()
	pageAnalyzer := analyzer.New(fetcher, generator, analyzer.Config{
		ProbeTimeout: time.Duration(cfg.Analyzer.ProbeTimeoutSeconds) * time.Second,
		SampleBytes:  cfg.Analyzer.SampleBytes,
		CacheTTL:     time.Duration(cfg.Analyzer.CacheTTLSeconds) * time.Second,
	}, logger)
	selector := strategy.New(generator, patternStore, embedder, strategy.Config{
		LookupK:        cfg.Selector.LookupK,
		MinSuccessRate: cfg.Selector.MinSuccessRate,
		MinSimilarity:  cfg.Selector.MinSimilarity,
		SynthTimeout:   cfg.GenerationTimeout(),
	}, logger)
	exec := executor.New(fetcher, generator, executor.Config{}, logger)
	feedback := learning.NewWriter(patternStore, embedder, idGen, clk, logger)

	a.Manager = jobs.NewManager(jobStore, a.queue, idGen, clk, logger)
	a.Pool = worker.NewPool(worker.Config{
		Workers:        cfg.Workers.Count,
		URLConcurrency: cfg.Workers.URLConcurrency,
		WriteRetries:   cfg.Workers.WriteRetries,
		RetryBackoff:   time.Duration(cfg.Workers.RetryBackoffMs) * time.Millisecond,
		EventTopic:     cfg.Events.Topic,
	}, worker.Deps{
		Queue:      a.queue,
		Jobs:       jobStore,
		Records:    recordStore,
		Exporter:   exporter,
		Analyzer:   pageAnalyzer,
		Selector:   selector,
		Executor:   exec,
		Normalizer: normalizer.New(),
		Feedback:   feedback,
		Observer:   a.Manager,
		Blobs:      blobs,
		Publisher:  a.publisher,
		Hasher:     hasher,
		Clock:      clk,
		Logger:     logger,
	})
	a.Aggregator = status.New(jobStore, recordStore, a.queue, a.Pool, clk)
	a.Server = api.NewServer(a.Manager, a.Aggregator, recordStore, api.AuthConfig{
		Enabled: cfg.Auth.Enabled,
		APIKey:  cfg.Auth.APIKey,
	}, logger)

	logger.Info("application services initialized")
	return a, nil
}

func buildGenerator(cfg config.Config, logger *zap.Logger) pipeline.Generator {
	var backends []pipeline.Generator
	for _, b := range cfg.Generation.Backends {
		switch b.Kind {
		case "anthropic":
			backends = append(backends, gen.NewAnthropic(gen.AnthropicConfig{
				APIKey: b.APIKey,
				Model:  b.Model,
			}))
		case "llama":
			backends = append(backends, gen.NewLlama(gen.LlamaConfig{
				Endpoint: b.BaseURL,
			}, nil))
		}
	}
	if len(backends) == 0 {
		logger.Info("no generation backends configured, generative paths disabled")
		return nil
	}
	return gen.NewFailover(backends, cfg.GenerationTimeout(), logger)
}

func rendererOrNil(r *fetch.Renderer) pipeline.Fetcher {
	if r == nil {
		return nil
	}
	return r
}

// Run starts the worker pool and HTTP server, blocking until the context
// ends, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Pool.Start(runCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			a.drain()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	cancel()
	a.drain()
	return nil
}

func (a *App) drain() {
	a.queue.Close()
	a.Pool.Wait()
}

// Close releases external connections.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if closer, ok := a.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
