package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/feed"
	"github.com/JakeFAU/tracker-mirror/internal/session"
	"github.com/JakeFAU/tracker-mirror/internal/storage/memory"
)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string][]byte
	err     error
	cookies map[string]string
	calls   []string
}

func (f *fakeFetcher) FetchWithRelogin(_ context.Context, account *catalog.Account, req session.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Path)
	if f.cookies != nil {
		account.Cookies = f.cookies
	}
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.pages[req.Path]
	if !ok {
		return nil, fmt.Errorf("no page for %s", req.Path)
	}
	return body, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	jobs      []catalog.Job
	err       error
	onEnqueue func(catalog.Job)
}

func (q *fakeQueue) Enqueue(_ context.Context, job catalog.Job) error {
	if q.onEnqueue != nil {
		q.onEnqueue(job)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = job.Name
	}
	return out
}

// recordingStore counts batches written through PutMulti and can run a
// hook while a feed reads its entries.
type recordingStore struct {
	*memory.CatalogStore
	mu            sync.Mutex
	batches       []catalog.WriteSet
	onFeedEntries func()
}

func (s *recordingStore) LatestEntries(ctx context.Context, ancestor catalog.CategoryKey, limit int) ([]catalog.Entry, error) {
	if s.onFeedEntries != nil {
		s.onFeedEntries()
	}
	return s.CatalogStore.LatestEntries(ctx, ancestor, limit)
}

func (s *recordingStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingStore) PutMulti(ctx context.Context, set catalog.WriteSet) error {
	s.mu.Lock()
	s.batches = append(s.batches, set)
	s.mu.Unlock()
	return s.CatalogStore.PutMulti(ctx, set)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type harness struct {
	orch    *Orchestrator
	store   *recordingStore
	queue   *fakeQueue
	blobs   *memory.BlobStore
	fetcher *fakeFetcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := &recordingStore{CatalogStore: memory.NewCatalogStore()}
	h := &harness{
		store:   store,
		queue:   &fakeQueue{},
		blobs:   memory.NewBlobStore(),
		fetcher: &fakeFetcher{pages: map[string][]byte{}},
	}
	orch, err := New(Config{
		Account: catalog.Account{Username: "mirror", Password: "secret", UserID: 7},
	}, Dependencies{
		Fetcher:  h.fetcher,
		Store:    store,
		Queue:    h.queue,
		Blobs:    h.blobs,
		Renderer: feed.NewRenderer(store, feed.Config{SiteURL: "https://mirror.example/", TrackerURL: "https://tracker.example/forum/"}),
		Clock:    fixedClock{now: time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)},
		IDs:      &seqIDs{},
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func mustKey(t *testing.T, raw string) catalog.CategoryKey {
	t.Helper()
	key, err := catalog.ParseCategoryKey(raw)
	require.NoError(t, err)
	return key
}

func indexRow(id, seconds int64) string {
	return fmt.Sprintf(`<tr class="tCenter hl-tr">
<td class="t-title"><div class="t-title"><a data-topic_id="%d">Entry %d</a></div></td>
<td class="tor-size"><u>1024</u></td>
<td><u>%d</u></td>
</tr>`, id, id, seconds)
}

func indexPage(rows ...string) []byte {
	out := `<html><body><table id="tor-tbl">`
	for _, row := range rows {
		out += row
	}
	return []byte(out + `</table></body></html>`)
}

func detailPage(crumbs string) []byte {
	return []byte(fmt.Sprintf(`<html><body>
<table><tr><td class="nav w100 pad_2 brand-bg-white">%s</td></tr></table>
<a class="med magnet-link-16" href="magnet:?xt=urn:btih:C0FFEE">magnet</a>
<div class="post_body"><span>About</span>
<table id="tor-reged"><tr><td><span id="tor-status-resp"><a><b>проверено</b></a></span></td></tr></table>
</div></body></html>`, crumbs))
}

const moviesCrumbs = `<span><a href="index.php">Трекер</a></span><span><a href="index.php?c=5">Movies</a></span>`
