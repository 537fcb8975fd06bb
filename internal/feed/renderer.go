// Package feed renders the short per-category RSS documents from the
// catalog. Items carry no description.
package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/session"
)

const (
	// ContentType is the media type feed documents are published with.
	ContentType = "application/rss+xml"
	// DefaultTTL is the channel ttl in minutes.
	DefaultTTL = 60

	enclosureType = "application/x-bittorrent"
	pathPrefix    = "feeds/short/"
)

// Feed sizes by category depth.
const (
	RootFeedSize     = 100
	CategoryFeedSize = 50
	ForumFeedSize    = 25
)

// Config controls feed rendering.
type Config struct {
	// SiteURL is the channel link.
	SiteURL string
	// TrackerURL is the tracker base URL item links point to.
	TrackerURL string
	TTL        int
}

// Document is a rendered artifact ready for the object store.
type Document struct {
	Path        string
	ContentType string
	Body        []byte
}

// Renderer builds feed documents from the newest entries of a subtree.
type Renderer struct {
	store catalog.Store
	cfg   Config
}

// NewRenderer builds a Renderer.
func NewRenderer(store catalog.Store, cfg Config) *Renderer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TrackerURL != "" && !strings.HasSuffix(cfg.TrackerURL, "/") {
		cfg.TrackerURL += "/"
	}
	return &Renderer{store: store, cfg: cfg}
}

// Size returns how many entries the feed of key carries.
func Size(key catalog.CategoryKey) int {
	switch {
	case key.IsRoot():
		return RootFeedSize
	case key.Leaf().Kind == catalog.KindCategory:
		return CategoryFeedSize
	default:
		return ForumFeedSize
	}
}

// Path returns the object path of the feed for key.
func Path(key catalog.CategoryKey) string {
	return pathPrefix + key.ID() + ".xml"
}

// Render builds the feed document for cat.
func (r *Renderer) Render(ctx context.Context, cat catalog.Category) (Document, error) {
	entries, err := r.store.LatestEntries(ctx, cat.Key, Size(cat.Key))
	if err != nil {
		return Document{}, fmt.Errorf("latest entries for %s: %w", cat.Key, err)
	}

	lastBuild := catalog.Epoch
	items := make([]rssItem, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp.After(lastBuild) {
			lastBuild = entry.Timestamp
		}
		items = append(items, r.item(entry))
	}

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:         cat.Title,
			Link:          r.cfg.SiteURL,
			Description:   cat.Title,
			TTL:           r.cfg.TTL,
			LastBuildDate: rfc822(lastBuild),
			Items:         items,
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return Document{}, fmt.Errorf("encode feed for %s: %w", cat.Key, err)
	}
	buf.WriteByte('\n')

	return Document{Path: Path(cat.Key), ContentType: ContentType, Body: buf.Bytes()}, nil
}

func (r *Renderer) item(entry catalog.Entry) rssItem {
	link := r.cfg.TrackerURL + session.EntryPath(entry.ID)
	return rssItem{
		Title:   entry.Title,
		Link:    link,
		GUID:    rssGUID{Value: strconv.FormatInt(entry.ID, 10)},
		PubDate: rfc822(entry.Timestamp),
		Enclosure: rssEnclosure{
			URL:    MagnetURI(entry),
			Length: entry.Size,
			Type:   enclosureType,
		},
	}
}

// MagnetURI builds the magnet link for an entry.
func MagnetURI(entry catalog.Entry) string {
	return "magnet:?xt=urn:btih:" + entry.Fingerprint + "&dn=" + url.QueryEscape(entry.Title)
}

func rfc822(t time.Time) string {
	return t.UTC().Format(time.RFC1123Z)
}
