package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/jobs"
	"github.com/JakeFAU/tracker-mirror/internal/metrics"
	"github.com/JakeFAU/tracker-mirror/internal/reconcile"
)

// CategoryMapPath is the object path of the published category tree.
const CategoryMapPath = "category_map.json"

// ScheduleFeeds enqueues a render job for every category owning entries
// newer than the watermark, and for all of their ancestors, then advances
// the watermark. The watermark is stored before the jobs are enqueued; a
// crash in between leaves the renders to ScheduleDirtyFeeds.
func (o *Orchestrator) ScheduleFeeds(ctx context.Context) (int, error) {
	watermark, err := o.store.Watermark(ctx)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	latest, err := o.store.LatestEntryTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest entry timestamp: %w", err)
	}
	changed, err := o.store.ChangedCategoryKeys(ctx, watermark)
	if err != nil {
		return 0, fmt.Errorf("changed categories: %w", err)
	}
	affected := WithAncestors(changed)

	next := watermark
	if latest.After(next) {
		next = latest
	}
	if err := o.store.SetWatermark(ctx, next); err != nil {
		return 0, fmt.Errorf("store watermark: %w", err)
	}

	for _, key := range affected {
		if err := o.enqueueRender(ctx, key); err != nil {
			return 0, err
		}
	}
	o.logger.Info("feed renders scheduled",
		zap.Time("watermark", next),
		zap.Int("categories", len(affected)),
	)
	return len(affected), nil
}

// ScheduleDirtyFeeds enqueues a render job for every dirty category and
// for all of its ancestors, whose feeds include the same entries.
func (o *Orchestrator) ScheduleDirtyFeeds(ctx context.Context) (int, error) {
	dirty, err := o.store.DirtyCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("dirty categories: %w", err)
	}
	keys := make([]catalog.CategoryKey, len(dirty))
	for i, cat := range dirty {
		keys[i] = cat.Key
	}
	var affected []catalog.CategoryKey
	if len(keys) > 0 {
		affected = WithAncestors(keys)
	}
	for _, key := range affected {
		if err := o.enqueueRender(ctx, key); err != nil {
			return 0, err
		}
	}
	o.logger.Info("dirty feed renders scheduled",
		zap.Int("dirty", len(dirty)),
		zap.Int("categories", len(affected)),
	)
	return len(affected), nil
}

// RenderFeed publishes the feed of key. The dirty flag is cleared before
// entries are read, so an import landing mid-render leaves it set; a failed
// render sets it again.
func (o *Orchestrator) RenderFeed(ctx context.Context, key catalog.CategoryKey) error {
	cat, err := o.store.GetCategory(ctx, key)
	if err != nil {
		return fmt.Errorf("get category %s: %w", key, err)
	}
	wasDirty := cat.Dirty
	if wasDirty {
		if err := o.store.SetCategoryDirty(ctx, key, false); err != nil {
			return fmt.Errorf("clear dirty flag of %s: %w", key, err)
		}
		cat.Dirty = false
	}

	uri, err := o.publishFeed(ctx, cat)
	if err != nil {
		if wasDirty {
			if restoreErr := o.store.SetCategoryDirty(ctx, key, true); restoreErr != nil {
				o.logger.Error("failed to restore dirty flag",
					zap.String("category", key.String()), zap.Error(restoreErr))
			}
		}
		return err
	}
	o.logger.Debug("feed published", zap.String("category", key.String()), zap.String("uri", uri))
	return nil
}

func (o *Orchestrator) publishFeed(ctx context.Context, cat catalog.Category) (string, error) {
	doc, err := o.renderer.Render(ctx, cat)
	if err != nil {
		return "", err
	}
	uri, err := o.blobs.PutObject(ctx, doc.Path, doc.ContentType, doc.Body)
	if err != nil {
		return "", fmt.Errorf("publish feed %s: %w", cat.Key, err)
	}
	metrics.ObserveArtifact("feed")
	return uri, nil
}

// RebuildCategoryMap clears the rebuild flag and publishes the category tree.
func (o *Orchestrator) RebuildCategoryMap(ctx context.Context) error {
	if err := o.store.SetMapRebuildPending(ctx, false); err != nil {
		return fmt.Errorf("clear map rebuild flag: %w", err)
	}
	categories, err := o.store.AllCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	root := catalog.RootCategory()
	for _, cat := range categories {
		if cat.Key.IsRoot() {
			root = cat
			break
		}
	}

	tree, orphans := reconcile.BuildCategoryMap(root, categories)
	if orphans > 0 {
		o.logger.Warn("categories without parent left out of the map", zap.Int("count", orphans))
	}
	body, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode category map: %w", err)
	}
	if _, err := o.blobs.PutObject(ctx, CategoryMapPath, "application/json", body); err != nil {
		return fmt.Errorf("publish category map: %w", err)
	}
	metrics.ObserveArtifact("category_map")
	o.logger.Info("category map published", zap.Int("categories", len(categories)))
	return nil
}

// WithAncestors returns keys plus every ancestor of each, deduplicated and
// ordered by their string form.
func WithAncestors(keys []catalog.CategoryKey) []catalog.CategoryKey {
	seen := make(map[string]catalog.CategoryKey)
	for _, key := range keys {
		seen[key.String()] = key
		for _, ancestor := range key.Ancestors() {
			seen[ancestor.String()] = ancestor
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]catalog.CategoryKey, len(names))
	for i, name := range names {
		out[i] = seen[name]
	}
	return out
}

func (o *Orchestrator) enqueueRender(ctx context.Context, key catalog.CategoryKey) error {
	payload, err := jobs.EncodeRender(key)
	if err != nil {
		return err
	}
	return o.enqueue(ctx, jobs.RenderFeed, payload)
}
