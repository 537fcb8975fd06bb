package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/extract"
	"github.com/JakeFAU/tracker-mirror/internal/jobs"
	"github.com/JakeFAU/tracker-mirror/internal/metrics"
	"github.com/JakeFAU/tracker-mirror/internal/session"
)

// ImportStatus describes how an import ended.
type ImportStatus string

// Import statuses.
const (
	OutcomeImported ImportStatus = "imported"
	OutcomeSkipped  ImportStatus = "skipped"
)

// ImportOutcome reports the result of ImportEntry.
type ImportOutcome struct {
	Status ImportStatus
	// Reason is set for skipped entries.
	Reason string
	// CategoriesCreated counts categories the entry brought into the tree.
	CategoriesCreated int
	// MapRebuildScheduled is true when this import enqueued a rebuild_map job.
	MapRebuildScheduled bool
}

// ImportEntry fetches the detail page of row and writes the entry together
// with the category changes it implies in a single batch. Pages rejected by
// validation are skipped without error.
func (o *Orchestrator) ImportEntry(ctx context.Context, row catalog.IndexEntry) (ImportOutcome, error) {
	logger := o.logger.With(zap.Int64("entry_id", row.ID))

	body, err := o.fetch(ctx, session.EntryRequest(row.ID))
	if err != nil {
		metrics.ObserveEntry("failed")
		return ImportOutcome{}, err
	}
	page, err := extract.ParseDetail(body)
	if err != nil {
		metrics.ObserveEntry("failed")
		o.snapshot(ctx, err)
		return ImportOutcome{}, err
	}
	if page.Skipped() {
		logger.Info("skipping entry", zap.String("reason", page.SkipReason))
		metrics.ObserveEntry("skipped")
		return ImportOutcome{Status: OutcomeSkipped, Reason: page.SkipReason}, nil
	}

	leaf := catalog.KeyFromPath(page.Path)
	res, err := o.reconciler.Reconcile(ctx, page.Path)
	if err != nil {
		metrics.ObserveEntry("failed")
		return ImportOutcome{}, err
	}
	outcome := ImportOutcome{Status: OutcomeImported, CategoriesCreated: res.Created}

	rebuild := false
	if res.Created > 0 {
		rebuild, err = o.claimMapRebuild(ctx)
		if err != nil {
			metrics.ObserveEntry("failed")
			return ImportOutcome{}, err
		}
	}

	entry := catalog.NewEntry(row, page.Detail, leaf)
	set := catalog.WriteSet{Categories: res.Categories, Entries: []catalog.Entry{entry}}
	if err := o.store.PutMulti(ctx, set); err != nil {
		metrics.ObserveEntry("failed")
		return ImportOutcome{}, fmt.Errorf("write entry %d: %w", row.ID, err)
	}
	// The rebuild job goes out only once the new categories are committed.
	if rebuild {
		if err := o.enqueueMapRebuild(ctx); err != nil {
			metrics.ObserveEntry("failed")
			return ImportOutcome{}, err
		}
		outcome.MapRebuildScheduled = true
	}

	metrics.ObserveEntry(string(OutcomeImported))
	metrics.AddCategoriesCreated(res.Created)
	logger.Info("entry imported",
		zap.String("category", leaf.String()),
		zap.Int("categories_created", res.Created),
	)
	return outcome, nil
}

// claimMapRebuild sets the rebuild flag and reports whether this caller
// must enqueue the rebuild job. Concurrent imports may both claim it; the
// rebuild is idempotent.
func (o *Orchestrator) claimMapRebuild(ctx context.Context) (bool, error) {
	pending, err := o.store.MapRebuildPending(ctx)
	if err != nil {
		return false, fmt.Errorf("read map rebuild flag: %w", err)
	}
	if pending {
		return false, nil
	}
	if err := o.store.SetMapRebuildPending(ctx, true); err != nil {
		return false, fmt.Errorf("set map rebuild flag: %w", err)
	}
	return true, nil
}

// enqueueMapRebuild enqueues the rebuild job claimed by claimMapRebuild. On
// failure the flag is released so a later import can claim it again.
func (o *Orchestrator) enqueueMapRebuild(ctx context.Context) error {
	err := o.enqueue(ctx, jobs.RebuildMap, nil)
	if err == nil {
		return nil
	}
	if resetErr := o.store.SetMapRebuildPending(ctx, false); resetErr != nil {
		o.logger.Error("failed to release map rebuild flag", zap.Error(resetErr))
	}
	return err
}

// snapshot stores the markup of a failed extraction under debug/parser.
// Failures are logged only.
func (o *Orchestrator) snapshot(ctx context.Context, err error) {
	var extractErr *extract.ExtractError
	if !errors.As(err, &extractErr) {
		return
	}
	path := fmt.Sprintf("debug/parser/%s_%s.html",
		extractErr.Section, o.clock.Now().UTC().Format("02-01-2006_15-04-05"))
	uri, putErr := o.blobs.PutObject(ctx, path, "text/html; charset=utf-8", extractErr.Markup)
	if putErr != nil {
		o.logger.Error("failed to store parser snapshot", zap.String("path", path), zap.Error(putErr))
		return
	}
	metrics.ObserveArtifact("snapshot")
	o.logger.Warn("parser failed, markup stored",
		zap.String("section", extractErr.Section),
		zap.String("uri", uri),
		zap.Error(err),
	)
}
