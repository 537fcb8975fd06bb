package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

// CatalogStore provides an in-memory catalog for development/testing.
type CatalogStore struct {
	mu          sync.RWMutex
	categories  map[string]catalog.Category
	entries     map[int64]catalog.Entry
	watermark   time.Time
	mapPending  bool
	account     catalog.Account
	haveAccount bool
}

// NewCatalogStore constructs a CatalogStore holding only the root category.
func NewCatalogStore() *CatalogStore {
	root := catalog.RootCategory()
	return &CatalogStore{
		categories: map[string]catalog.Category{root.Key.String(): root},
		entries:    make(map[int64]catalog.Entry),
		watermark:  catalog.Epoch,
	}
}

// GetCategory fetches a category by key.
func (s *CatalogStore) GetCategory(_ context.Context, key catalog.CategoryKey) (catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cat, ok := s.categories[key.String()]
	if !ok {
		return catalog.Category{}, catalog.ErrNotFound
	}
	return cat, nil
}

// GetCategories fetches several categories; absent ones are nil.
func (s *CatalogStore) GetCategories(_ context.Context, keys []catalog.CategoryKey) ([]*catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*catalog.Category, len(keys))
	for i, key := range keys {
		if cat, ok := s.categories[key.String()]; ok {
			out[i] = &cat
		}
	}
	return out, nil
}

// PutMulti writes categories and entries atomically. Categories are
// upserted; entries already present are left untouched.
func (s *CatalogStore) PutMulti(_ context.Context, set catalog.WriteSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cat := range set.Categories {
		s.categories[cat.Key.String()] = cat
	}
	for _, entry := range set.Entries {
		if _, exists := s.entries[entry.ID]; exists {
			continue
		}
		s.entries[entry.ID] = entry
	}
	return nil
}

// SetCategoryDirty updates the dirty flag of an existing category.
func (s *CatalogStore) SetCategoryDirty(_ context.Context, key catalog.CategoryKey, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.categories[key.String()]
	if !ok {
		return catalog.ErrNotFound
	}
	cat.Dirty = dirty
	s.categories[key.String()] = cat
	return nil
}

// LatestEntryTimestamp returns the newest entry timestamp or catalog.Epoch.
func (s *CatalogStore) LatestEntryTimestamp(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := catalog.Epoch
	for _, entry := range s.entries {
		if entry.Timestamp.After(latest) {
			latest = entry.Timestamp
		}
	}
	return latest, nil
}

// LatestEntries returns up to limit entries under ancestor, newest first.
func (s *CatalogStore) LatestEntries(
	_ context.Context,
	ancestor catalog.CategoryKey,
	limit int,
) ([]catalog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Entry
	for _, entry := range s.entries {
		if entry.Category.HasPrefix(ancestor) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ChangedCategoryKeys returns the owning keys of entries newer than since.
func (s *CatalogStore) ChangedCategoryKeys(_ context.Context, since time.Time) ([]catalog.CategoryKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]catalog.CategoryKey)
	for _, entry := range s.entries {
		if entry.Timestamp.After(since) {
			seen[entry.Category.String()] = entry.Category
		}
	}
	return sortedKeys(seen), nil
}

// DirtyCategories lists categories whose feed is stale.
func (s *CatalogStore) DirtyCategories(_ context.Context) ([]catalog.Category, error) {
	return s.listCategories(func(c catalog.Category) bool { return c.Dirty }), nil
}

// AllCategories lists every category, root included.
func (s *CatalogStore) AllCategories(_ context.Context) ([]catalog.Category, error) {
	return s.listCategories(func(catalog.Category) bool { return true }), nil
}

// Watermark returns the last feed rebuild timestamp.
func (s *CatalogStore) Watermark(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark, nil
}

// SetWatermark records the last feed rebuild timestamp.
func (s *CatalogStore) SetWatermark(_ context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = ts.UTC()
	return nil
}

// MapRebuildPending reports whether a category map rebuild is scheduled.
func (s *CatalogStore) MapRebuildPending(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapPending, nil
}

// SetMapRebuildPending sets the map rebuild flag.
func (s *CatalogStore) SetMapRebuildPending(_ context.Context, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapPending = pending
	return nil
}

// Account returns the stored tracker account.
func (s *CatalogStore) Account(_ context.Context) (catalog.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.haveAccount {
		return catalog.Account{}, catalog.ErrNotFound
	}
	return copyAccount(s.account), nil
}

// SaveAccount replaces the stored tracker account.
func (s *CatalogStore) SaveAccount(_ context.Context, account catalog.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = copyAccount(account)
	s.haveAccount = true
	return nil
}

func (s *CatalogStore) listCategories(keep func(catalog.Category) bool) []catalog.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Category, 0, len(s.categories))
	for _, cat := range s.categories {
		if keep(cat) {
			out = append(out, cat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func sortedKeys(keys map[string]catalog.CategoryKey) []catalog.CategoryKey {
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]catalog.CategoryKey, len(names))
	for i, name := range names {
		out[i] = keys[name]
	}
	return out
}

func copyAccount(account catalog.Account) catalog.Account {
	if account.Cookies != nil {
		cookies := make(map[string]string, len(account.Cookies))
		for k, v := range account.Cookies {
			cookies[k] = v
		}
		account.Cookies = cookies
	}
	return account
}
