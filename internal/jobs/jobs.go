// Package jobs names the pipeline jobs and encodes their payloads.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

// Job names understood by the orchestrator.
const (
	ImportEntry   = "import_entry"
	UpdateFeeds   = "update_feeds"
	RebuildMap    = "rebuild_map"
	RenderFeed    = "render_feed"
	DiscoverIndex = "discover"
	SweepDirty    = "sweep_dirty"
)

// ErrMalformed marks jobs that can never succeed: unknown names and
// undecodable payloads.
var ErrMalformed = errors.New("malformed job")

type importPayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"`
	Size      int64  `json:"size"`
}

type renderPayload struct {
	Key string `json:"key"`
}

// EncodeImport builds the payload of an import_entry job.
func EncodeImport(row catalog.IndexEntry) ([]byte, error) {
	return json.Marshal(importPayload{
		ID:        row.ID,
		Title:     row.Title,
		Timestamp: row.Timestamp.Unix(),
		Size:      row.Size,
	})
}

// DecodeImport reads the payload of an import_entry job.
func DecodeImport(data []byte) (catalog.IndexEntry, error) {
	var p importPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return catalog.IndexEntry{}, fmt.Errorf("%w: import payload: %v", ErrMalformed, err)
	}
	if p.ID <= 0 {
		return catalog.IndexEntry{}, fmt.Errorf("%w: import payload: invalid id %d", ErrMalformed, p.ID)
	}
	return catalog.IndexEntry{
		ID:        p.ID,
		Title:     p.Title,
		Timestamp: time.Unix(p.Timestamp, 0).UTC(),
		Size:      p.Size,
	}, nil
}

// EncodeRender builds the payload of a render_feed job.
func EncodeRender(key catalog.CategoryKey) ([]byte, error) {
	return json.Marshal(renderPayload{Key: key.String()})
}

// DecodeRender reads the payload of a render_feed job.
func DecodeRender(data []byte) (catalog.CategoryKey, error) {
	var p renderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: render payload: %v", ErrMalformed, err)
	}
	key, err := catalog.ParseCategoryKey(p.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: render payload: %v", ErrMalformed, err)
	}
	return key, nil
}
