package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/feed"
)

const (
	maxEntriesLimit = 500
	catalogTimeout  = 3 * time.Second
)

// CatalogHandler exposes read-only views of the catalog store.
type CatalogHandler struct {
	store   catalog.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewCatalogHandler wires the store and logger.
func NewCatalogHandler(store catalog.Store, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{
		store:   store,
		timeout: catalogTimeout,
		logger:  logger,
	}
}

type statusDTO struct {
	LatestEntry       time.Time `json:"latest_entry"`
	Watermark         time.Time `json:"watermark"`
	MapRebuildPending bool      `json:"map_rebuild_pending"`
	DirtyCategories   int       `json:"dirty_categories"`
}

type categoryDTO struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Dirty    bool   `json:"dirty"`
	FeedPath string `json:"feed_path"`
}

// Status handles GET /v1/status with the pipeline bookkeeping: newest entry,
// feed watermark, rebuild flag and the number of stale feeds.
func (h *CatalogHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		out statusDTO
		err error
	)
	if out.LatestEntry, err = h.store.LatestEntryTimestamp(ctx); err != nil {
		h.fail(w, "load latest entry", err)
		return
	}
	if out.Watermark, err = h.store.Watermark(ctx); err != nil {
		h.fail(w, "load watermark", err)
		return
	}
	if out.MapRebuildPending, err = h.store.MapRebuildPending(ctx); err != nil {
		h.fail(w, "load map flag", err)
		return
	}
	dirty, err := h.store.DirtyCategories(ctx)
	if err != nil {
		h.fail(w, "list dirty categories", err)
		return
	}
	out.DirtyCategories = len(dirty)
	writeJSON(w, http.StatusOK, out)
}

// ListCategories handles GET /v1/categories?dirty=true.
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	dirtyOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("dirty")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dirty must be a boolean")
			return
		}
		dirtyOnly = v
	}

	var (
		cats []catalog.Category
		err  error
	)
	if dirtyOnly {
		cats, err = h.store.DirtyCategories(ctx)
	} else {
		cats, err = h.store.AllCategories(ctx)
	}
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	out := make([]categoryDTO, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categoryDTO{
			Key:      cat.Key.String(),
			Title:    cat.Title,
			Dirty:    cat.Dirty,
			FeedPath: feed.Path(cat.Key),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

// LatestEntries handles GET /v1/entries?category=r0/c5&limit=25. The category
// defaults to the root and the limit to the feed size of the category.
func (h *CatalogHandler) LatestEntries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key := catalog.RootKey()
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		parsed, err := catalog.ParseCategoryKey(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		key = parsed
	}
	limit := feed.Size(key)
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxEntriesLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = v
	}

	if _, err := h.store.GetCategory(ctx, key); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		h.fail(w, "load category", err)
		return
	}
	entries, err := h.store.LatestEntries(ctx, key, limit)
	if err != nil {
		h.fail(w, "list entries", err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": key.String(), "entries": entries})
}

func (h *CatalogHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}
