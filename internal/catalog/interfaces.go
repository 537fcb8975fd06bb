package catalog

import (
	"context"
	"time"
)

// Store is the catalog persistence contract. Missing single entities are
// reported with ErrNotFound; multi-gets return a slice aligned with the keys
// holding nil for absent entries.
type Store interface {
	GetCategory(ctx context.Context, key CategoryKey) (Category, error)
	GetCategories(ctx context.Context, keys []CategoryKey) ([]*Category, error)
	PutMulti(ctx context.Context, set WriteSet) error
	// SetCategoryDirty updates only the dirty flag of an existing category.
	SetCategoryDirty(ctx context.Context, key CategoryKey, dirty bool) error

	// LatestEntryTimestamp returns the newest entry timestamp, or Epoch.
	LatestEntryTimestamp(ctx context.Context) (time.Time, error)
	// LatestEntries returns up to limit entries under ancestor, newest first.
	LatestEntries(ctx context.Context, ancestor CategoryKey, limit int) ([]Entry, error)
	// ChangedCategoryKeys returns the distinct owning keys of entries newer than since.
	ChangedCategoryKeys(ctx context.Context, since time.Time) ([]CategoryKey, error)
	DirtyCategories(ctx context.Context) ([]Category, error)
	AllCategories(ctx context.Context) ([]Category, error)

	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, ts time.Time) error
	MapRebuildPending(ctx context.Context) (bool, error)
	SetMapRebuildPending(ctx context.Context, pending bool) error

	Account(ctx context.Context) (Account, error)
	SaveAccount(ctx context.Context, account Account) error
}

// Queue accepts jobs for at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// BlobStore writes published artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Delivery is a job handed out by a queue consumer. Exactly one of Ack or
// Nack is called once the job has been handled.
type Delivery struct {
	Job  Job
	Ack  func()
	Nack func()
}
