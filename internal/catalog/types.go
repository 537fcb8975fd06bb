package catalog

import (
	"time"
)

// Epoch is the zero watermark used when nothing has been recorded yet.
var Epoch = time.Unix(0, 0).UTC()

// IndexEntry is one row of the tracker index page.
type IndexEntry struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// EntryDetail carries the fields only the detail page provides.
type EntryDetail struct {
	Fingerprint string
	Description string
}

// Entry is one tracked item. Entries are write-once.
type Entry struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Timestamp   time.Time   `json:"timestamp"`
	Fingerprint string      `json:"fingerprint"`
	Size        int64       `json:"size"`
	Description string      `json:"description"`
	Category    CategoryKey `json:"category"`
}

// NewEntry merges index and detail data into an Entry owned by leaf.
func NewEntry(row IndexEntry, detail EntryDetail, leaf CategoryKey) Entry {
	return Entry{
		ID:          row.ID,
		Title:       row.Title,
		Timestamp:   row.Timestamp.UTC(),
		Fingerprint: detail.Fingerprint,
		Size:        row.Size,
		Description: detail.Description,
		Category:    leaf,
	}
}

// Category is a node of the category tree.
type Category struct {
	Key   CategoryKey `json:"key"`
	Title string      `json:"title"`
	Dirty bool        `json:"dirty"`
}

// Account is the tracker user on whose behalf pages are fetched, together
// with the serialized cookie jar of its session.
type Account struct {
	Username string            `json:"username"`
	Password string            `json:"password"`
	UserID   int64             `json:"user_id"`
	Cookies  map[string]string `json:"cookies,omitempty"`
}

// HasSession reports whether the account carries stored cookies.
func (a *Account) HasSession() bool {
	return a != nil && len(a.Cookies) > 0
}

// ClearSession drops the stored cookies.
func (a *Account) ClearSession() {
	a.Cookies = nil
}

// CookiesEqual compares two cookie snapshots.
func CookiesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if other, ok := b[k]; !ok || other != v {
			return false
		}
	}
	return true
}

// WriteSet groups entities persisted in a single batch.
type WriteSet struct {
	Categories []Category
	Entries    []Entry
}

// Empty reports whether the set holds nothing to write.
func (w WriteSet) Empty() bool {
	return len(w.Categories) == 0 && len(w.Entries) == 0
}

// Job is an opaque unit of work handed to the queue.
type Job struct {
	ID      string
	Name    string
	Payload []byte
	Attempt int
}

// RootTitle is the title the stores seed the root category with.
const RootTitle = "Tracker"

// RootCategory returns the category every store starts with.
func RootCategory() Category {
	return Category{Key: RootKey(), Title: RootTitle}
}
