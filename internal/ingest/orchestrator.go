// Package ingest drives the mirror pipeline: discovery of new entries, their
// import into the catalog, and the scheduling and publishing of feeds and the
// category map.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/feed"
	"github.com/JakeFAU/tracker-mirror/internal/jobs"
	"github.com/JakeFAU/tracker-mirror/internal/logging"
	"github.com/JakeFAU/tracker-mirror/internal/reconcile"
	"github.com/JakeFAU/tracker-mirror/internal/session"
)

// Fetcher retrieves authenticated tracker pages.
type Fetcher interface {
	FetchWithRelogin(ctx context.Context, account *catalog.Account, req session.Request) ([]byte, error)
}

// Config carries orchestrator settings.
type Config struct {
	// ForumID restricts discovery to one forum; zero lists the whole tracker.
	ForumID int64
	// Account seeds the store when no account has been saved yet.
	Account catalog.Account
}

// Dependencies bundles orchestrator collaborators.
type Dependencies struct {
	Fetcher    Fetcher
	Store      catalog.Store
	Queue      catalog.Queue
	Blobs      catalog.BlobStore
	Reconciler *reconcile.Reconciler
	Renderer   *feed.Renderer
	Clock      catalog.Clock
	IDs        catalog.IDGenerator
	Logger     *zap.Logger
}

// Orchestrator runs one pipeline step per job.
type Orchestrator struct {
	cfg        Config
	fetcher    Fetcher
	store      catalog.Store
	queue      catalog.Queue
	blobs      catalog.BlobStore
	reconciler *reconcile.Reconciler
	renderer   *feed.Renderer
	clock      catalog.Clock
	ids        catalog.IDGenerator
	logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Queue == nil:
		return nil, errors.New("queue is required")
	case deps.Blobs == nil:
		return nil, errors.New("blob store is required")
	case deps.Renderer == nil:
		return nil, errors.New("renderer is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = reconcile.New(deps.Store, logger)
	}
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		queue:      deps.Queue,
		blobs:      deps.Blobs,
		reconciler: reconciler,
		renderer:   deps.Renderer,
		clock:      deps.Clock,
		ids:        deps.IDs,
		logger:     logger,
	}, nil
}

// Handle routes a job to the pipeline step it names.
func (o *Orchestrator) Handle(ctx context.Context, job catalog.Job) error {
	logger := logging.ForJob(o.logger, job)
	switch job.Name {
	case jobs.DiscoverIndex:
		_, err := o.Discover(ctx)
		return err
	case jobs.ImportEntry:
		row, err := jobs.DecodeImport(job.Payload)
		if err != nil {
			return err
		}
		_, err = o.ImportEntry(ctx, row)
		return err
	case jobs.UpdateFeeds:
		_, err := o.ScheduleFeeds(ctx)
		return err
	case jobs.RenderFeed:
		key, err := jobs.DecodeRender(job.Payload)
		if err != nil {
			return err
		}
		return o.RenderFeed(ctx, key)
	case jobs.RebuildMap:
		return o.RebuildCategoryMap(ctx)
	case jobs.SweepDirty:
		_, err := o.ScheduleDirtyFeeds(ctx)
		return err
	default:
		logger.Warn("unknown job name")
		return fmt.Errorf("%w: unknown name %q", jobs.ErrMalformed, job.Name)
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, name string, payload []byte) error {
	id, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	if err := o.queue.Enqueue(ctx, catalog.Job{ID: id, Name: name, Payload: payload}); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}
