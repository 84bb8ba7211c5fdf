// Package server builds the application's dependencies from configuration
// and runs the long-lived service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/api"
	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/clock/system"
	"github.com/JakeFAU/classifieds-crawler/internal/config"
	"github.com/JakeFAU/classifieds-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/classifieds-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/classifieds-crawler/internal/hash/sha256"
	"github.com/JakeFAU/classifieds-crawler/internal/id/uuid"
	"github.com/JakeFAU/classifieds-crawler/internal/lock"
	"github.com/JakeFAU/classifieds-crawler/internal/logging"
	"github.com/JakeFAU/classifieds-crawler/internal/notify"
	memorynotify "github.com/JakeFAU/classifieds-crawler/internal/notify/memory"
	pubsubnotify "github.com/JakeFAU/classifieds-crawler/internal/notify/pubsub"
	"github.com/JakeFAU/classifieds-crawler/internal/orchestrator"
	"github.com/JakeFAU/classifieds-crawler/internal/paginate"
	"github.com/JakeFAU/classifieds-crawler/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/classifieds-crawler/internal/queue/memory"
	"github.com/JakeFAU/classifieds-crawler/internal/reconcile"
	"github.com/JakeFAU/classifieds-crawler/internal/schedule"
	"github.com/JakeFAU/classifieds-crawler/internal/seed"
	"github.com/JakeFAU/classifieds-crawler/internal/site"
	gcsstorage "github.com/JakeFAU/classifieds-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/classifieds-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/classifieds-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/classifieds-crawler/internal/storage/postgres"
	"github.com/JakeFAU/classifieds-crawler/internal/tracker"
	"github.com/JakeFAU/classifieds-crawler/internal/worker"
)

const redisLockPrefix = "classifieds:item-lock:"

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        catalog.Store
	pgStore      *pgstore.CatalogStore
	notifier     catalog.Notifier
	orchestrator *orchestrator.Orchestrator
	queue        *queueMemory.Queue
	dispatch     *dispatcher.Dispatcher
	scheduler    *schedule.Scheduler
	apiServer    *api.Server
	pubsubClient *pubsub.Client
	pubsubNotify *pubsubnotify.Notifier
	storage      *storage.Client
	redis        *redis.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies around logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Provider),
		zap.String("lock", cfg.Lock.Provider),
		zap.String("notify", cfg.Notify.Provider),
		zap.String("archive", cfg.Archive.Provider),
	)

	if err := app.setup(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) setup(ctx context.Context) error {
	if err := a.setupStore(ctx); err != nil {
		return err
	}
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	locker, err := a.setupLocker(ctx)
	if err != nil {
		return err
	}
	if err := a.setupNotifier(ctx); err != nil {
		return err
	}
	driver, err := a.setupDriver(archive)
	if err != nil {
		return err
	}

	clock := system.New()
	a.orchestrator = orchestrator.New(
		a.store,
		driver,
		reconcile.New(a.logger),
		tracker.New(a.store, clock, a.logger),
		locker,
		a.notifier,
		orchestrator.Config{
			AddressConcurrency: a.cfg.Search.AddressConcurrency,
			RunTimeout:         a.cfg.Search.RunTimeout,
			CategoryURL:        a.cfg.Notify.CategoryURL,
		},
		a.logger,
	)

	a.queue = queueMemory.NewQueue(a.cfg.Scheduler.QueueDepth)
	workers := make([]*worker.Worker, 0, a.cfg.Scheduler.Workers)
	for i := 0; i < a.cfg.Scheduler.Workers; i++ {
		workers = append(workers, worker.New(i, a.queue, a.orchestrator, a.logger))
	}
	a.dispatch = dispatcher.New(a.queue, uuid.New(), clock, workers)
	a.scheduler = schedule.New(a.store, a.dispatch, a.logger)

	var pinger api.Pinger
	if a.pgStore != nil {
		pinger = a.pgStore
	}
	a.apiServer = api.NewServer(a.store, a.dispatch, pinger, clock, *a.cfg, a.logger)
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.ProviderPostgres:
		if a.cfg.Store.MigrateOnStart {
			version, dirty, err := pgstore.Migrate(a.cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			a.logger.Info("database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
		store, err := pgstore.NewCatalogStore(ctx, pgstore.Config{
			DSN:             a.cfg.Store.DSN,
			MaxConns:        a.cfg.Store.MaxConns,
			MinConns:        a.cfg.Store.MinConns,
			MaxConnLifetime: a.cfg.Store.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("catalog store init failed: %w", err)
		}
		a.pgStore = store
		a.store = store
		a.logger.Info("using postgres catalog store")
	default:
		store := memoryStorage.NewCatalogStore(nil)
		a.store = store
		a.logger.Info("using in-memory catalog store")
		// Nothing else can populate an in-memory catalog.
		if len(a.cfg.Categories) > 0 {
			if _, err := seed.Apply(ctx, store, a.cfg.Categories, a.logger); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (catalog.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case config.ProviderGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return store, nil
	case config.ProviderLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Archive.Dir))
		return store, nil
	case config.ProviderMemory:
		a.logger.Info("archiving pages in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Debug("page archiving disabled")
		return nil, nil
	}
}

func (a *App) setupLocker(ctx context.Context) (catalog.Locker, error) {
	if a.cfg.Lock.Provider != config.ProviderRedis {
		a.logger.Debug("using in-process item locks")
		return lock.NewLocal(), nil
	}
	a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.Lock.RedisAddr})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	a.logger.Info("using redis item locks", zap.String("addr", a.cfg.Lock.RedisAddr))
	return lock.NewRedis(a.redis, lock.RedisConfig{
		TTL:           a.cfg.Lock.TTL,
		RetryInterval: a.cfg.Lock.RetryInterval,
		KeyPrefix:     redisLockPrefix,
	}, a.logger), nil
}

func (a *App) setupNotifier(ctx context.Context) error {
	switch a.cfg.Notify.Provider {
	case config.ProviderPubSub:
		var err error
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubNotify, err = pubsubnotify.NewFromClient(a.pubsubClient, a.cfg.Notify.TopicID)
		if err != nil {
			return fmt.Errorf("pubsub notifier init failed: %w", err)
		}
		a.notifier = a.pubsubNotify
		a.logger.Info("Pub/Sub notifier initialized",
			zap.String("project", a.cfg.Notify.ProjectID),
			zap.String("topic", a.cfg.Notify.TopicID),
		)
	case config.ProviderMemory:
		a.notifier = memorynotify.New()
	default:
		a.notifier = notify.NewLog(a.logger)
	}
	return nil
}

func (a *App) setupDriver(archive catalog.BlobStore) (*paginate.Driver, error) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.HTTP.RPSPerDomain,
		DefaultBurst: a.cfg.HTTP.Burst,
	})
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.HTTP.RequestTimeout,
		Parallelism:   a.cfg.HTTP.ParallelismPerDomain,
		Delay:         a.cfg.HTTP.Delay,
	}, limiter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	a.logger.Info("fetcher config",
		zap.String("user_agent", a.cfg.HTTP.UserAgent),
		zap.Duration("request_timeout", a.cfg.HTTP.RequestTimeout),
		zap.Float64("rps_per_domain", a.cfg.HTTP.RPSPerDomain),
		zap.Int("page_concurrency", a.cfg.Search.PageConcurrency),
	)
	return paginate.New(fetcher, site.Default(), archive, sha256.New(), paginate.Config{
		PageConcurrency: a.cfg.Search.PageConcurrency,
		MaxPages:        a.cfg.Search.MaxPages,
		ArchivePrefix:   a.cfg.Archive.Prefix,
	}, a.logger), nil
}

// Store exposes the catalog store.
func (a *App) Store() catalog.Store {
	return a.store
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunCategory runs one category synchronously.
func (a *App) RunCategory(ctx context.Context, categoryID int64) (orchestrator.Result, error) {
	res, err := a.orchestrator.RunCategory(ctx, categoryID)
	if err != nil {
		return res, fmt.Errorf("run category %d: %w", categoryID, err)
	}
	return res, nil
}

// Run starts the workers, scheduler and HTTP server and blocks until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Sync(ctx); err != nil {
			return fmt.Errorf("schedule categories: %w", err)
		}
		a.scheduler.Start()
		a.logger.Info("scheduler started", zap.Int("entries", a.scheduler.Len()))
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Scheduler.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.cfg.Scheduler.Enabled {
		a.scheduler.Stop(shutdownCtx)
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}
	return a.Close()
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.pubsubNotify != nil {
		a.pubsubNotify.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
