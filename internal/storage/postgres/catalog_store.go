// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

const (
	stateWatermark  = "feed_watermark"
	stateMapRebuild = "map_rebuild"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate creates the schema and seeds the root category on start.
	Migrate bool
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// CatalogStore keeps categories, entries, pipeline state and the tracker
// account in Postgres.
type CatalogStore struct {
	pool dbPool
}

// NewCatalogStore connects to Postgres using the provided config.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &CatalogStore{pool: pool}
	if cfg.Migrate {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(pool dbPool) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates missing tables and seeds the root category.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	root := catalog.RootCategory()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO categories (key, title, dirty) VALUES ($1, $2, FALSE) ON CONFLICT (key) DO NOTHING`,
		root.Key.String(), root.Title,
	); err != nil {
		return fmt.Errorf("seed root category: %w", err)
	}
	return nil
}

// GetCategory fetches a category by key.
func (s *CatalogStore) GetCategory(ctx context.Context, key catalog.CategoryKey) (catalog.Category, error) {
	cat := catalog.Category{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT title, dirty FROM categories WHERE key = $1`, key.String(),
	).Scan(&cat.Title, &cat.Dirty)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Category{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Category{}, fmt.Errorf("select category: %w", err)
	}
	return cat, nil
}

// SetCategoryDirty updates the dirty flag of an existing category.
func (s *CatalogStore) SetCategoryDirty(ctx context.Context, key catalog.CategoryKey, dirty bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE categories SET dirty = $2 WHERE key = $1`, key.String(), dirty)
	if err != nil {
		return fmt.Errorf("update dirty flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// GetCategories fetches several categories; absent ones are nil.
func (s *CatalogStore) GetCategories(ctx context.Context, keys []catalog.CategoryKey) ([]*catalog.Category, error) {
	out := make([]*catalog.Category, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.String()
	}
	found, err := s.queryCategories(ctx,
		`SELECT key, title, dirty FROM categories WHERE key = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]catalog.Category, len(found))
	for _, cat := range found {
		byKey[cat.Key.String()] = cat
	}
	for i, name := range names {
		if cat, ok := byKey[name]; ok {
			out[i] = &cat
		}
	}
	return out, nil
}

// PutMulti writes categories and entries in one transaction. Categories are
// upserted; entries already present are left untouched.
func (s *CatalogStore) PutMulti(ctx context.Context, set catalog.WriteSet) (err error) {
	if set.Empty() {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, cat := range set.Categories {
		if _, err = tx.Exec(ctx, `
INSERT INTO categories (key, title, dirty) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET title = EXCLUDED.title, dirty = EXCLUDED.dirty`,
			cat.Key.String(), cat.Title, cat.Dirty,
		); err != nil {
			return fmt.Errorf("upsert category %s: %w", cat.Key, err)
		}
	}
	for _, entry := range set.Entries {
		if _, err = tx.Exec(ctx, `
INSERT INTO entries (id, title, ts, fingerprint, size, description, category)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`,
			entry.ID,
			entry.Title,
			entry.Timestamp.UTC(),
			entry.Fingerprint,
			entry.Size,
			entry.Description,
			entry.Category.String(),
		); err != nil {
			return fmt.Errorf("insert entry %d: %w", entry.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LatestEntryTimestamp returns the newest entry timestamp or catalog.Epoch.
func (s *CatalogStore) LatestEntryTimestamp(ctx context.Context) (time.Time, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT max(ts) FROM entries`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("select latest entry: %w", err)
	}
	if latest == nil {
		return catalog.Epoch, nil
	}
	return latest.UTC(), nil
}

// LatestEntries returns up to limit entries under ancestor, newest first.
func (s *CatalogStore) LatestEntries(
	ctx context.Context,
	ancestor catalog.CategoryKey,
	limit int,
) ([]catalog.Entry, error) {
	prefix := ancestor.String()
	rows, err := s.pool.Query(ctx, `
SELECT id, title, ts, fingerprint, size, description, category
FROM entries
WHERE category = $1 OR category LIKE $2
ORDER BY ts DESC, id DESC
LIMIT $3`, prefix, prefix+"/%", limit)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []catalog.Entry
	for rows.Next() {
		var (
			entry   catalog.Entry
			rawKey  string
			created time.Time
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Title,
			&created,
			&entry.Fingerprint,
			&entry.Size,
			&entry.Description,
			&rawKey,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if entry.Category, err = catalog.ParseCategoryKey(rawKey); err != nil {
			return nil, err
		}
		entry.Timestamp = created.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// ChangedCategoryKeys returns the owning keys of entries newer than since.
func (s *CatalogStore) ChangedCategoryKeys(ctx context.Context, since time.Time) ([]catalog.CategoryKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT category FROM entries WHERE ts > $1 ORDER BY category`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("select changed categories: %w", err)
	}
	defer rows.Close()

	var out []catalog.CategoryKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan category key: %w", err)
		}
		key, err := catalog.ParseCategoryKey(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changed categories: %w", err)
	}
	return out, nil
}

// DirtyCategories lists categories whose feed is stale.
func (s *CatalogStore) DirtyCategories(ctx context.Context) ([]catalog.Category, error) {
	return s.queryCategories(ctx, `SELECT key, title, dirty FROM categories WHERE dirty ORDER BY key`)
}

// AllCategories lists every category, root included.
func (s *CatalogStore) AllCategories(ctx context.Context) ([]catalog.Category, error) {
	return s.queryCategories(ctx, `SELECT key, title, dirty FROM categories ORDER BY key`)
}

// Watermark returns the last feed rebuild timestamp.
func (s *CatalogStore) Watermark(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, `SELECT ts FROM mirror_state WHERE name = $1`, stateWatermark).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && ts == nil) {
		return catalog.Epoch, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("select watermark: %w", err)
	}
	return ts.UTC(), nil
}

// SetWatermark records the last feed rebuild timestamp.
func (s *CatalogStore) SetWatermark(ctx context.Context, ts time.Time) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO mirror_state (name, ts) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET ts = EXCLUDED.ts`, stateWatermark, ts.UTC()); err != nil {
		return fmt.Errorf("store watermark: %w", err)
	}
	return nil
}

// MapRebuildPending reports whether a category map rebuild is scheduled.
func (s *CatalogStore) MapRebuildPending(ctx context.Context) (bool, error) {
	var flag bool
	err := s.pool.QueryRow(ctx, `SELECT flag FROM mirror_state WHERE name = $1`, stateMapRebuild).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select map rebuild flag: %w", err)
	}
	return flag, nil
}

// SetMapRebuildPending sets the map rebuild flag.
func (s *CatalogStore) SetMapRebuildPending(ctx context.Context, pending bool) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO mirror_state (name, flag) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET flag = EXCLUDED.flag`, stateMapRebuild, pending); err != nil {
		return fmt.Errorf("store map rebuild flag: %w", err)
	}
	return nil
}

// Account returns the stored tracker account.
func (s *CatalogStore) Account(ctx context.Context) (catalog.Account, error) {
	var (
		account catalog.Account
		cookies []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT username, password, user_id, cookies FROM accounts ORDER BY id LIMIT 1`,
	).Scan(&account.Username, &account.Password, &account.UserID, &cookies)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Account{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Account{}, fmt.Errorf("select account: %w", err)
	}
	if len(cookies) > 0 {
		if err := json.Unmarshal(cookies, &account.Cookies); err != nil {
			return catalog.Account{}, fmt.Errorf("decode account cookies: %w", err)
		}
	}
	return account, nil
}

// SaveAccount replaces the stored tracker account.
func (s *CatalogStore) SaveAccount(ctx context.Context, account catalog.Account) error {
	cookies, err := json.Marshal(account.Cookies)
	if err != nil {
		return fmt.Errorf("encode account cookies: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO accounts (id, username, password, user_id, cookies) VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	username = EXCLUDED.username,
	password = EXCLUDED.password,
	user_id = EXCLUDED.user_id,
	cookies = EXCLUDED.cookies`,
		account.Username, account.Password, account.UserID, cookies,
	); err != nil {
		return fmt.Errorf("store account: %w", err)
	}
	return nil
}

func (s *CatalogStore) queryCategories(ctx context.Context, query string, args ...any) ([]catalog.Category, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var out []catalog.Category
	for rows.Next() {
		var (
			cat catalog.Category
			raw string
		)
		if err := rows.Scan(&raw, &cat.Title, &cat.Dirty); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		if cat.Key, err = catalog.ParseCategoryKey(raw); err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}
