package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "feeds/short/f12.xml", "application/rss+xml", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://feeds/short/f12.xml" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := store.Get("feeds/short/f12.xml")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(stored.Data) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored.Data)
	}
	if stored.ContentType != "application/rss+xml" {
		t.Fatalf("unexpected content type %q", stored.ContentType)
	}
}

func TestBlobStorePathsSorted(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, path := range []string{"b.xml", "a.xml"} {
		if _, err := store.PutObject(ctx, path, "text/xml", nil); err != nil {
			t.Fatalf("PutObject(%s) error = %v", path, err)
		}
	}
	paths := store.Paths()
	if len(paths) != 2 || paths[0] != "a.xml" || paths[1] != "b.xml" {
		t.Fatalf("unexpected paths %v", paths)
	}
}
