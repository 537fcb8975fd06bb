// Package app builds the long-lived services of the mirror from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/api"
	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/clock/system"
	"github.com/JakeFAU/tracker-mirror/internal/config"
	"github.com/JakeFAU/tracker-mirror/internal/dispatcher"
	"github.com/JakeFAU/tracker-mirror/internal/feed"
	"github.com/JakeFAU/tracker-mirror/internal/id/uuid"
	"github.com/JakeFAU/tracker-mirror/internal/ingest"
	queueMemory "github.com/JakeFAU/tracker-mirror/internal/queue/memory"
	queuePubSub "github.com/JakeFAU/tracker-mirror/internal/queue/pubsub"
	"github.com/JakeFAU/tracker-mirror/internal/session"
	gcsstorage "github.com/JakeFAU/tracker-mirror/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tracker-mirror/internal/storage/local"
	memoryStorage "github.com/JakeFAU/tracker-mirror/internal/storage/memory"
	pgstore "github.com/JakeFAU/tracker-mirror/internal/storage/postgres"
	"github.com/JakeFAU/tracker-mirror/internal/telemetry"
	"github.com/JakeFAU/tracker-mirror/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Version is reported on traces; set at link time.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        catalog.Store
	pgStore      *pgstore.CatalogStore
	blobs        catalog.BlobStore
	memQueue     *queueMemory.Queue
	pubsubQueue  *queuePubSub.Queue
	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	telemetry    *telemetry.Providers

	orchestrator *ingest.Orchestrator
	dispatch     *dispatcher.Dispatcher
	apiServer    *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()
	logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("queue", cfg.Queue.Driver),
		zap.String("storage", cfg.Storage.Driver),
	)

	if cfg.Telemetry.Enabled {
		app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     Version,
			ProjectID:   cfg.Telemetry.ProjectID,
			SampleRatio: cfg.Telemetry.SampleRatio,
			Registerer:  prometheus.DefaultRegisterer,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry init failed: %w", err)
		}
	}
	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	queue, source, err := app.setupQueue(ctx)
	if err != nil {
		return nil, err
	}

	client, err := session.New(session.Config{
		BaseURL:           cfg.Tracker.BaseURL,
		LoginURL:          cfg.Tracker.LoginURL,
		Encoding:          cfg.Tracker.Encoding,
		UserMarker:        cfg.Tracker.UserMarker,
		UserAgent:         cfg.Tracker.UserAgent,
		ConnectTimeout:    cfg.Tracker.ConnectTimeout,
		ReadTimeout:       cfg.Tracker.ReadTimeout,
		RequestsPerSecond: cfg.Tracker.RequestsPerSecond,
		MaxRelogins:       cfg.Tracker.MaxRelogins,
	}, logger.Named("session"))
	if err != nil {
		return nil, fmt.Errorf("session client init failed: %w", err)
	}

	ids := uuid.New()
	app.orchestrator, err = ingest.New(ingest.Config{
		ForumID: cfg.Tracker.ForumID,
		Account: catalog.Account{
			Username: cfg.Account.Username,
			Password: cfg.Account.Password,
			UserID:   cfg.Account.UserID,
		},
	}, ingest.Dependencies{
		Fetcher: client,
		Store:   app.store,
		Queue:   queue,
		Blobs:   app.blobs,
		Renderer: feed.NewRenderer(app.store, feed.Config{
			SiteURL:    cfg.Feeds.SiteURL,
			TrackerURL: cfg.Tracker.BaseURL,
			TTL:        cfg.Feeds.TTL,
		}),
		Clock:  system.New(),
		IDs:    ids,
		Logger: logger.Named("ingest"),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(source, app.orchestrator, worker.Config{
			JobTimeout:   cfg.Worker.JobTimeout,
			ErrorBackoff: cfg.Worker.ErrorBackoff,
		}, logger.Named("worker").With(zap.Int("index", i))))
	}
	app.dispatch = dispatcher.New(queue, workers, logger.Named("dispatcher"))

	var checker api.ReadinessChecker
	if app.pgStore != nil {
		checker = app.pgStore
	}
	app.apiServer = api.NewServer(
		app.dispatch,
		ids,
		api.NewCatalogHandler(app.store, logger.Named("catalog")),
		checker,
		cfg,
		logger.Named("api"),
	)
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		store, err := pgstore.NewCatalogStore(ctx, pgstore.Config{
			DSN:             a.cfg.Store.DSN,
			MaxConns:        a.cfg.Store.MaxConns,
			MinConns:        a.cfg.Store.MinConns,
			MaxConnLifetime: a.cfg.Store.MaxConnLifetime,
			Migrate:         a.cfg.Store.Migrate,
		})
		if err != nil {
			return fmt.Errorf("catalog store init failed: %w", err)
		}
		a.pgStore = store
		a.store = store
		a.logger.Info("using postgres catalog store")
	default:
		a.store = memoryStorage.NewCatalogStore()
		a.logger.Warn("using in-memory catalog store; state is lost on exit")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Driver {
	case config.DriverGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket:       a.cfg.Storage.Bucket,
			CacheControl: a.cfg.Storage.CacheControl,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
	case config.DriverLocal:
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
	default:
		a.blobs = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory storage backend")
	}
	return nil
}

func (a *App) setupQueue(ctx context.Context) (catalog.Queue, worker.Source, error) {
	if a.cfg.Queue.Driver != config.DriverPubSub {
		a.memQueue = queueMemory.NewQueue(a.cfg.Queue.Depth, a.cfg.Queue.MaxAttempts)
		a.logger.Info("using in-memory work queue", zap.Int("depth", a.cfg.Queue.Depth))
		return a.memQueue, a.memQueue, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Queue.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubQueue = queuePubSub.New(
		client.Publisher(a.cfg.Queue.Topic),
		client.Subscriber(a.cfg.Queue.Subscription),
		a.logger.Named("pubsub"),
	)
	a.logger.Info("using Pub/Sub work queue",
		zap.String("project", a.cfg.Queue.ProjectID),
		zap.String("topic", a.cfg.Queue.Topic),
		zap.String("subscription", a.cfg.Queue.Subscription),
	)
	return a.pubsubQueue, a.pubsubQueue, nil
}

// Orchestrator exposes the pipeline for one-shot commands.
func (a *App) Orchestrator() *ingest.Orchestrator {
	return a.orchestrator
}

// Run serves HTTP and consumes jobs until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	return a.Close(shutdownCtx)
}

// RunTask handles one payload-less job in the foreground. With the in-memory
// queue, the jobs it schedules are worked off by the dispatcher before
// RunTask returns; with Pub/Sub they are left for the serving workers.
func (a *App) RunTask(ctx context.Context, name string) error {
	if a.memQueue == nil {
		return a.orchestrator.Handle(ctx, catalog.Job{Name: name})
	}

	seed := func(ctx context.Context) error {
		return a.orchestrator.Handle(ctx, catalog.Job{Name: name})
	}
	if err := a.dispatch.RunUntilIdle(ctx, a.memQueue, seed); err != nil {
		return err
	}
	if dropped := a.memQueue.Dropped(); dropped > 0 {
		a.logger.Warn("jobs dropped after repeated failures", zap.Int64("dropped", dropped))
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.pubsubQueue != nil {
		a.pubsubQueue.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
