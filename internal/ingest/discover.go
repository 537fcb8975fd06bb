package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/extract"
	"github.com/JakeFAU/tracker-mirror/internal/jobs"
	"github.com/JakeFAU/tracker-mirror/internal/session"
)

// DiscoveryReport summarizes one discovery run.
type DiscoveryReport struct {
	Latest   time.Time `json:"latest"`
	Listed   int       `json:"listed"`
	Enqueued int       `json:"enqueued"`
	// FeedsScheduled is true when an update_feeds job was enqueued.
	FeedsScheduled bool `json:"feeds_scheduled"`
}

// Discover fetches the tracker index and enqueues an import job for every
// entry newer than the newest stored one, followed by one feed update job.
func (o *Orchestrator) Discover(ctx context.Context) (DiscoveryReport, error) {
	latest, err := o.store.LatestEntryTimestamp(ctx)
	if err != nil {
		return DiscoveryReport{}, fmt.Errorf("latest entry timestamp: %w", err)
	}
	report := DiscoveryReport{Latest: latest}

	body, err := o.fetch(ctx, session.IndexRequest(o.cfg.ForumID))
	if err != nil {
		return report, err
	}
	rows, err := extract.ParseIndex(body)
	if err != nil {
		o.snapshot(ctx, err)
		return report, err
	}
	report.Listed = len(rows)

	fresh := FilterNew(rows, latest)
	for _, row := range fresh {
		payload, err := jobs.EncodeImport(row)
		if err != nil {
			return report, err
		}
		if err := o.enqueue(ctx, jobs.ImportEntry, payload); err != nil {
			return report, err
		}
		report.Enqueued++
	}
	if len(fresh) > 0 {
		if err := o.enqueue(ctx, jobs.UpdateFeeds, nil); err != nil {
			return report, err
		}
		report.FeedsScheduled = true
	}

	o.logger.Info("discovery finished",
		zap.Time("latest", latest),
		zap.Int("listed", report.Listed),
		zap.Int("enqueued", report.Enqueued),
	)
	return report, nil
}

// FilterNew keeps the rows published strictly after latest.
func FilterNew(rows []catalog.IndexEntry, latest time.Time) []catalog.IndexEntry {
	var out []catalog.IndexEntry
	for _, row := range rows {
		if row.Timestamp.After(latest) {
			out = append(out, row)
		}
	}
	return out
}
