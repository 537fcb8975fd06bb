package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

const testMarker = `<span class="uname" data-u="%d">`

type fakeTracker struct {
	server      *httptest.Server
	logins      atomic.Int32
	validCookie string
	loginCookie string
	rejectLogin bool
	pageStatus  int
	pageBody    []byte
}

func newFakeTracker(t *testing.T) *fakeTracker {
	t.Helper()
	ft := &fakeTracker{validCookie: "fresh", loginCookie: "fresh", pageStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/forum/login.php", func(w http.ResponseWriter, r *http.Request) {
		ft.logins.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.Method != http.MethodPost || r.PostForm.Get("login") == "" ||
			r.PostForm.Get("login_username") != "alice" || r.PostForm.Get("login_password") != "secret" {
			http.Error(w, "bad login", http.StatusBadRequest)
			return
		}
		if ft.rejectLogin {
			fmt.Fprint(w, "<html>wrong password</html>")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "bb_session", Value: ft.loginCookie, Path: "/"})
		fmt.Fprintf(w, "<html>"+testMarker+"alice</span></html>", 42)
	})
	mux.HandleFunc("/forum/tracker.php", func(w http.ResponseWriter, r *http.Request) {
		if ft.pageStatus != http.StatusOK {
			w.WriteHeader(ft.pageStatus)
			return
		}
		ck, err := r.Cookie("bb_session")
		if err != nil || ck.Value != ft.validCookie {
			fmt.Fprint(w, "<html>guest</html>")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		if ft.pageBody != nil {
			_, _ = w.Write(ft.pageBody)
			return
		}
		fmt.Fprintf(w, "<html>"+testMarker+"alice</span><table id=\"tor-tbl\"></table></html>", 42)
	})
	ft.server = httptest.NewServer(mux)
	t.Cleanup(ft.server.Close)
	return ft
}

func (ft *fakeTracker) client(t *testing.T, relogins int) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:     ft.server.URL + "/forum/",
		LoginURL:    ft.server.URL + "/forum/login.php",
		Encoding:    "windows-1251",
		UserMarker:  testMarker,
		ReadTimeout: 2 * time.Second,
		MaxRelogins: relogins,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func newAccount() *catalog.Account {
	return &catalog.Account{Username: "alice", Password: "secret", UserID: 42}
}

func TestFetchLogsInWhenNoCookies(t *testing.T) {
	t.Parallel()

	ft := newFakeTracker(t)
	c := ft.client(t, 1)
	account := newAccount()

	body, err := c.Fetch(context.Background(), account, IndexRequest(0))
	require.NoError(t, err)
	require.Contains(t, string(body), `id="tor-tbl"`)
	require.Equal(t, int32(1), ft.logins.Load())
	require.Equal(t, map[string]string{"bb_session": "fresh"}, account.Cookies)

	// Stored cookies are reused without another login.
	_, err = c.Fetch(context.Background(), account, IndexRequest(0))
	require.NoError(t, err)
	require.Equal(t, int32(1), ft.logins.Load())
}

func TestFetchStaleCookiesExpireSession(t *testing.T) {
	t.Parallel()

	ft := newFakeTracker(t)
	c := ft.client(t, 0)
	account := newAccount()
	account.Cookies = map[string]string{"bb_session": "stale"}

	_, err := c.Fetch(context.Background(), account, IndexRequest(0))
	require.ErrorIs(t, err, ErrSessionExpired)
	require.False(t, account.HasSession())
	require.Zero(t, ft.logins.Load())
}

func TestFetchWithReloginRecoversOnce(t *testing.T) {
	t.Parallel()

	ft := newFakeTracker(t)
	c := ft.client(t, 1)
	account := newAccount()
	account.Cookies = map[string]string{"bb_session": "stale"}

	_, err := c.FetchWithRelogin(context.Background(), account, IndexRequest(0))
	require.NoError(t, err)
	require.Equal(t, int32(1), ft.logins.Load())
	require.Equal(t, "fresh", account.Cookies["bb_session"])
}

func TestFetchWithReloginGivesUp(t *testing.T) {
	t.Parallel()

	ft := newFakeTracker(t)
	c := ft.client(t, 1)
	account := newAccount()
	account.Cookies = map[string]string{"bb_session": "stale"}
	// Login hands out a cookie the page handler does not accept.
	ft.loginCookie = "rotated"

	_, err := c.FetchWithRelogin(context.Background(), account, IndexRequest(0))
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, int32(1), ft.logins.Load())
	require.False(t, account.HasSession())
}

func TestFetchLoginRejected(t *testing.T) {
	t.Parallel()

	ft := newFakeTracker(t)
	ft.rejectLogin = true
	c := ft.client(t, 1)

	_, err := c.FetchWithRelogin(context.Background(), newAccount(), IndexRequest(0))
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestFetchNonSuccessStatusIsTransportError(t *testing.T) {
	t.Parallel()

	ft := newFakeTracker(t)
	ft.pageStatus = http.StatusBadGateway
	c := ft.client(t, 1)

	_, err := c.Fetch(context.Background(), newAccount(), IndexRequest(0))
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "expected TransportError, got %v", err)
	require.Equal(t, http.StatusBadGateway, terr.StatusCode)
}

func TestFetchUnreachableIsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base + "/forum/", UserMarker: testMarker}, zap.NewNop())
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), newAccount(), EntryRequest(1))
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "expected TransportError, got %v", err)
}

func TestFetchDecodesTrackerEncoding(t *testing.T) {
	t.Parallel()

	ft := newFakeTracker(t)
	page := fmt.Sprintf("<html>"+testMarker+"</span><b>Тема не найдена</b></html>", 42)
	encoded, err := charmap.Windows1251.NewEncoder().String(page)
	require.NoError(t, err)
	ft.pageBody = []byte(encoded)
	c := ft.client(t, 0)

	body, err := c.Fetch(context.Background(), newAccount(), IndexRequest(0))
	require.NoError(t, err)
	require.Contains(t, string(body), "Тема не найдена")
}

func TestBrowserResetsCaptureBetweenRequests(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/forum/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/forum/ok", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>ok</html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/forum/", ReadTimeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	b, err := c.newBrowser()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.do(ctx, b, http.MethodGet, srv.URL+"/forum/broken", nil)
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "expected TransportError, got %v", err)
	require.Equal(t, http.StatusBadGateway, terr.StatusCode)

	// The same collector serves the next request without the earlier failure.
	body, err := c.do(ctx, b, http.MethodGet, srv.URL+"/forum/ok", nil)
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(body))
	require.Equal(t, http.StatusOK, b.status)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "not a url"}, nil)
	require.Error(t, err)
}

func TestIndexRequestForumFilter(t *testing.T) {
	t.Parallel()

	all := IndexRequest(0)
	require.Equal(t, "tracker.php", all.Path)
	require.Equal(t, "-1", all.Form["f[]"])

	forum := IndexRequest(252)
	require.Equal(t, "tracker.php?f=252", forum.Path)
	require.Equal(t, "252", forum.Form["f[]"])
	require.Equal(t, http.MethodPost, forum.Method)

	require.Equal(t, "viewtopic.php?t=77", EntryRequest(77).Path)
}

func TestRetryPolicyAllow(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRelogins: 1}
	require.True(t, p.Allow(0))
	require.True(t, p.Allow(1))
	require.False(t, p.Allow(2))
	require.False(t, RetryPolicy{}.Allow(1))
}
