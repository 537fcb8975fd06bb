package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/config"
	"github.com/JakeFAU/tracker-mirror/internal/jobs"
	queueMemory "github.com/JakeFAU/tracker-mirror/internal/queue/memory"
	"github.com/JakeFAU/tracker-mirror/internal/storage/memory"
)

type fakeIDGen struct {
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, catalog.Job) error {
	return errors.New("queue full")
}

type fakeChecker struct {
	err error
}

func (f fakeChecker) Ping(context.Context) error {
	return f.err
}

func newTestServer(t *testing.T, q catalog.Queue, ids catalog.IDGenerator, cfg config.Config) *Server {
	t.Helper()
	store := memory.NewCatalogStore()
	return NewServer(q, ids, NewCatalogHandler(store, zap.NewNop()), nil, cfg, zap.NewNop())
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_TaskEndpointsEnqueueJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		name string
	}{
		{"/v1/tasks/discover", jobs.DiscoverIndex},
		{"/v1/tasks/feeds", jobs.UpdateFeeds},
		{"/v1/tasks/map", jobs.RebuildMap},
		{"/v1/tasks/dirty", jobs.SweepDirty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q := queueMemory.NewQueue(4, 1)
			server := newTestServer(t, q, &fakeIDGen{ids: []string{"job-1"}}, config.Config{})

			rec := serve(t, server, http.MethodPost, tc.path)
			require.Equal(t, http.StatusAccepted, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "job-1", body["job_id"])
			require.Equal(t, tc.name, body["job"])

			d, err := q.Dequeue(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.name, d.Job.Name)
			require.Equal(t, "job-1", d.Job.ID)
		})
	}
}

func TestServer_TaskEnqueueFailure(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, failingQueue{}, &fakeIDGen{ids: []string{"job-1"}}, config.Config{})
	rec := serve(t, server, http.MethodPost, "/v1/tasks/feeds")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_TaskIDFailure(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1, 1)
	server := newTestServer(t, q, &fakeIDGen{err: errors.New("entropy")}, config.Config{})
	rec := serve(t, server, http.MethodPost, "/v1/tasks/map")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Zero(t, q.Len())
}

func TestServer_TasksRequireAPIKey(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(4, 1)
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(t, q, &fakeIDGen{ids: []string{"job-1"}}, cfg)

	rec := serve(t, server, http.MethodPost, "/v1/tasks/discover")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/discover", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// probes stay open
	rec = serve(t, server, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, queueMemory.NewQueue(1, 1), &fakeIDGen{}, config.Config{})
	rec := serve(t, server, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := NewServer(queueMemory.NewQueue(1, 1), &fakeIDGen{}, nil, fakeChecker{}, config.Config{}, nil)
	rec := serve(t, ready, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(queueMemory.NewQueue(1, 1), &fakeIDGen{}, nil, fakeChecker{err: errors.New("db down")}, config.Config{}, nil)
	rec = serve(t, down, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, queueMemory.NewQueue(1, 1), &fakeIDGen{}, config.Config{})
	serve(t, server, http.MethodGet, "/healthz")

	rec := serve(t, server, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_KeepsIncomingRequestID(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, queueMemory.NewQueue(1, 1), &fakeIDGen{}, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-7", rec.Header().Get("X-Request-ID"))
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	rec := httptest.NewRecorder()
	timeoutMiddleware(10*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
