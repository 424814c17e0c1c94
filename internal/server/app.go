// Package server builds the application's dependencies and drives the
// long-running and one-shot commands.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/book-catalog-pipeline/internal/api"
	rediscache "github.com/JakeFAU/book-catalog-pipeline/internal/cache/redis"
	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
	"github.com/JakeFAU/book-catalog-pipeline/internal/clock/system"
	"github.com/JakeFAU/book-catalog-pipeline/internal/config"
	"github.com/JakeFAU/book-catalog-pipeline/internal/export"
	"github.com/JakeFAU/book-catalog-pipeline/internal/id/uuid"
	"github.com/JakeFAU/book-catalog-pipeline/internal/ingest"
	"github.com/JakeFAU/book-catalog-pipeline/internal/logging"
	"github.com/JakeFAU/book-catalog-pipeline/internal/metrics"
	"github.com/JakeFAU/book-catalog-pipeline/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/book-catalog-pipeline/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/book-catalog-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/book-catalog-pipeline/internal/query"
	queuememory "github.com/JakeFAU/book-catalog-pipeline/internal/queue/memory"
	"github.com/JakeFAU/book-catalog-pipeline/internal/scheduler"
	"github.com/JakeFAU/book-catalog-pipeline/internal/spider"
	gcsstorage "github.com/JakeFAU/book-catalog-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/book-catalog-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/book-catalog-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/book-catalog-pipeline/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	writer catalog.Writer
	reader catalog.Reader
	runs   catalog.RunStore
	pg     *pgstore.CatalogStore

	blobs     export.BlobStore
	gcsClient *storage.Client

	publisher       ingest.Publisher
	pubsubPublisher *gcppublisher.Publisher

	cache       query.Cache
	redisClient *goredis.Client

	pipeline *ingest.Pipeline
	service  *query.Service
	exporter *export.Exporter
	limiter  *ratelimit.Limiter

	closeOnce sync.Once
}

// Build creates the application's dependencies. Infrastructure is selected by
// configuration: Postgres or memory for the catalog, local/GCS/memory for
// exports, Pub/Sub or memory for notifications, Redis or memory for the cache.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-provided logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("export_backend", cfg.Export.Backend),
		zap.Int("snapshot_retention", cfg.Pipeline.SnapshotRetention),
	)

	steps := []func(context.Context) error{
		app.setupCatalog,
		app.setupExportStorage,
		app.setupPublisher,
		app.setupCache,
		app.setupServices,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}
	return app, nil
}

func (a *App) setupCatalog(ctx context.Context) error {
	if a.cfg.Database.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory catalog store; data is lost on exit")
		store := memorystorage.NewCatalogStore()
		a.writer, a.reader, a.runs = store, store, memorystorage.NewRunStore()
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("catalog store init failed: %w", err)
	}
	a.pg = store
	a.writer, a.reader, a.runs = store, store, store
	a.logger.Info("postgres catalog store initialized", zap.Int32("max_conns", a.cfg.Database.MaxConns))
	return nil
}

func (a *App) setupExportStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Export.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS export backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		cfg := gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket}
		a.gcsClient, err = gcsstorage.NewClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, cfg)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.BackendLocal:
		a.logger.Info("using local export backend", zap.String("path", a.cfg.Storage.LocalDir))
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Info("using in-memory export backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New(a.logger.Named("publisher"))
		return nil
	}
	client, err := gcppublisher.NewClient(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicName: a.cfg.PubSub.TopicName,
	})
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher, err = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	if err != nil {
		return errors.Join(fmt.Errorf("pubsub publisher init failed: %w", err), client.Close())
	}
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupCache(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.logger.Info("using in-process analytics cache",
			zap.Duration("ttl", a.cfg.API.CacheTTL),
			zap.Int("size", a.cfg.API.CacheSize),
		)
		a.cache = query.NewMemoryCache(a.cfg.API.CacheTTL, a.cfg.API.CacheSize)
		return nil
	}
	client, err := rediscache.NewClient(ctx, rediscache.Config{
		Addr:         a.cfg.Redis.Addr,
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		PoolSize:     a.cfg.Redis.PoolSize,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis cache init failed: %w", err)
	}
	a.redisClient = client
	a.cache = rediscache.New(client, a.cfg.API.CacheTTL)
	a.logger.Info("redis analytics cache initialized", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupServices(context.Context) error {
	clock := system.New()
	engine, err := ingest.NewEngine(a.writer, clock, a.cfg.Pipeline.SnapshotRetention, a.logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	a.pipeline, err = ingest.NewPipeline(ingest.PipelineDeps{
		Store:     a.writer,
		Engine:    engine,
		Runs:      a.runs,
		Publisher: a.publisher,
		Topic:     a.cfg.PubSub.TopicName,
		Cache:     a.cache,
		IDs:       uuid.NewUUIDGenerator(),
		Clock:     clock,
		Logger:    a.logger.Named("pipeline"),
	})
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	a.service, err = query.NewService(a.reader, a.cache, a.logger.Named("query"))
	if err != nil {
		return fmt.Errorf("query service init failed: %w", err)
	}
	a.exporter, err = export.NewExporter(a.reader, a.blobs, a.cfg.Export.Prefix, a.logger.Named("export"))
	if err != nil {
		return fmt.Errorf("exporter init failed: %w", err)
	}
	if a.cfg.RateLimit.RPS > 0 {
		a.limiter = ratelimit.New(ratelimit.Config{RPS: a.cfg.RateLimit.RPS, Burst: a.cfg.RateLimit.Burst})
		a.logger.Info("rate limiter enabled",
			zap.Float64("rps", a.cfg.RateLimit.RPS),
			zap.Int("burst", a.cfg.RateLimit.Burst),
		)
	}
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// InitDB waits for Postgres and creates any missing tables and indexes.
func (a *App) InitDB(ctx context.Context) error {
	if a.pg == nil {
		a.logger.Info("in-memory catalog store needs no schema")
		return nil
	}
	a.logger.Info("waiting for postgres",
		zap.Duration("timeout", a.cfg.Database.WaitTimeout),
		zap.Duration("interval", a.cfg.Database.WaitInterval),
	)
	if err := a.pg.WaitForPostgres(ctx, a.cfg.Database.WaitTimeout, a.cfg.Database.WaitInterval); err != nil {
		return err
	}
	if err := a.pg.EnsureSchema(ctx); err != nil {
		return err
	}
	a.logger.Info("schema ready")
	return nil
}

// RunOnce crawls the catalog and ingests every scraped record in one run.
// The spider feeds a bounded queue that the pipeline drains concurrently.
func (a *App) RunOnce(ctx context.Context) (catalog.IngestRun, error) {
	queue := queuememory.NewQueue(a.cfg.Pipeline.QueueCapacity)
	sp, err := spider.New(a.spiderConfig(), queue, a.logger.Named("spider"))
	if err != nil {
		return catalog.IngestRun{}, fmt.Errorf("spider init failed: %w", err)
	}

	crawlCtx, cancelCrawl := context.WithCancel(ctx)
	defer cancelCrawl()

	type crawlResult struct {
		stats spider.Stats
		err   error
	}
	done := make(chan crawlResult, 1)
	go func() {
		defer queue.Close()
		stats, crawlErr := sp.Run(crawlCtx)
		done <- crawlResult{stats: stats, err: crawlErr}
	}()

	run, runErr := a.pipeline.Run(ctx, queue)
	// A failed run stops consuming; unblock the spider.
	cancelCrawl()
	res := <-done

	fields := []zap.Field{
		zap.String("run_id", run.ID.String()),
		zap.Int64("pages", res.stats.Pages),
		zap.Int64("products", res.stats.Products),
		zap.Int64("crawl_errors", res.stats.Errors),
		zap.Int64("retries", res.stats.Retries),
	}
	if res.err != nil && runErr == nil && ctx.Err() == nil {
		a.logger.Warn("crawl ended with error", append(fields, zap.Error(res.err))...)
	} else {
		a.logger.Info("crawl finished", fields...)
	}
	return run, runErr
}

func (a *App) spiderConfig() spider.Config {
	c := a.cfg.Crawler
	return spider.Config{
		StartURLs:        c.StartURLs,
		AllowedDomains:   c.AllowedDomains,
		UserAgent:        c.UserAgent,
		RespectRobots:    c.RespectRobots,
		Delay:            c.DownloadDelay,
		RandomDelay:      c.RandomDelay,
		Parallelism:      c.Parallelism,
		Timeout:          c.Timeout,
		MaxRetries:       c.MaxRetries,
		RetryStatusCodes: c.RetryStatusCodes,
		MaxDepth:         c.MaxDepth,
	}
}

// Export writes the catalog CSV to the configured blob store.
func (a *App) Export(ctx context.Context) (export.Result, error) {
	return a.exporter.Export(ctx)
}

// Schedule runs RunOnce immediately and then every schedule.interval until
// ctx is canceled. When exportAfter is set each successful run is exported.
func (a *App) Schedule(ctx context.Context, exportAfter bool) error {
	s, err := scheduler.New(a.cfg.Schedule.Interval, func(ctx context.Context) error {
		run, err := a.RunOnce(ctx)
		if err != nil {
			return err
		}
		if exportAfter && run.Counters.Changed() {
			if _, err := a.Export(ctx); err != nil {
				return fmt.Errorf("export after run: %w", err)
			}
		}
		return nil
	}, a.logger.Named("scheduler"))
	if err != nil {
		return err
	}
	a.logger.Info("scheduler started", zap.Duration("interval", a.cfg.Schedule.Interval))
	s.Run(ctx)
	return nil
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.service, a.runs, api.Options{
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: a.cfg.API.RequestTimeout,
		Limiter:        a.limiter,
	}, a.logger.Named("api")).Handler()
}

// Serve runs the HTTP API until ctx is canceled, then shuts it down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	a.warnProcessLocalCache()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// warnProcessLocalCache flags a serve process whose analytics cache is not
// invalidated by crawls running in other processes against the same database.
func (a *App) warnProcessLocalCache() {
	if a.cfg.Database.Driver == config.DriverMemory {
		return
	}
	if _, ok := a.cache.(*query.MemoryCache); !ok {
		return
	}
	a.logger.Warn("analytics cache is process-local; runs in other processes show up after the cache ttl, set redis.addr to share it",
		zap.Duration("ttl", a.cfg.API.CacheTTL),
	)
}

// Close releases every client the application opened. It is safe to call
// more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		if err := logging.Sync(a.logger); err != nil {
			a.logger.Warn("logger sync failed", zap.Error(err))
		}
	})
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	a.logger.Info("shutdown complete")
}
