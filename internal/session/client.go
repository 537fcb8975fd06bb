// Package session implements authenticated access to the tracker: a cookie
// jar bound to an account, form login, and detection of expired sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/metrics"
	"github.com/JakeFAU/tracker-mirror/internal/policy/ratelimit"
)

// DefaultUserMarker is the profile link the tracker renders for a logged-in user.
const DefaultUserMarker = `<a class="logged-in-as-uname" ` +
	`href="http://rutracker.org/forum/profile.php?mode=viewprofile&amp;u=%d">`

// Config controls the tracker session.
type Config struct {
	BaseURL           string
	LoginURL          string
	Encoding          string
	UserMarker        string
	UserAgent         string
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	RequestsPerSecond float64
	MaxRelogins       int
}

// Request describes one page fetch. Path may be absolute or relative to BaseURL.
type Request struct {
	Path   string
	Method string
	Form   map[string]string
}

// Client fetches tracker pages on behalf of an account.
type Client struct {
	cfg       Config
	base      *url.URL
	login     string
	transport http.RoundTripper
	limiter   *ratelimit.Limiter
	retry     RetryPolicy
	logger    *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid tracker base url %q", cfg.BaseURL)
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = base.ResolveReference(&url.URL{Path: "login.php"}).String()
	}
	if cfg.UserMarker == "" {
		cfg.UserMarker = DefaultUserMarker
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3050 * time.Millisecond
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	return &Client{
		cfg:       cfg,
		base:      base,
		login:     cfg.LoginURL,
		transport: newHTTPTransport(cfg.ConnectTimeout),
		limiter:   ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RequestsPerSecond}),
		retry:     RetryPolicy{MaxRelogins: cfg.MaxRelogins},
		logger:    logger,
	}, nil
}

// Fetch performs req for account. An account without cookies is logged in
// first; the resulting cookies are stored on the account and persisting them
// is the caller's job. A response without the user marker clears the cookies
// and returns ErrSessionExpired.
func (c *Client) Fetch(ctx context.Context, account *catalog.Account, req Request) ([]byte, error) {
	if account == nil {
		return nil, errors.New("account is required")
	}
	target, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	b, err := c.newBrowser()
	if err != nil {
		return nil, err
	}

	if account.HasSession() {
		if err := b.collector.SetCookies(c.base.String(), toCookies(account.Cookies)); err != nil {
			return nil, fmt.Errorf("restore cookies: %w", err)
		}
	} else {
		if err := c.logIn(ctx, b, account); err != nil {
			return nil, err
		}
		account.Cookies = fromCookies(b.collector.Cookies(c.base.String()))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	body, err := c.do(ctx, b, method, target, req.Form)
	if err != nil {
		metrics.ObserveFetch("page", "error")
		return nil, err
	}
	if !c.isLoggedIn(body, account) {
		metrics.ObserveFetch("page", "expired")
		account.ClearSession()
		return nil, fmt.Errorf("%s %s as %s: %w", method, target, account.Username, ErrSessionExpired)
	}
	metrics.ObserveFetch("page", "ok")
	return body, nil
}

// FetchWithRelogin is Fetch under the client's RetryPolicy: an expired
// session is retried with a forced login at most MaxRelogins times.
func (c *Client) FetchWithRelogin(ctx context.Context, account *catalog.Account, req Request) ([]byte, error) {
	var lastErr error
	for attempt := 0; c.retry.Allow(attempt); attempt++ {
		body, err := c.Fetch(ctx, account, req)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, ErrSessionExpired) {
			return nil, err
		}
		lastErr = err
		c.logger.Info("tracker session expired, logging in again",
			zap.String("username", account.Username),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

func (c *Client) logIn(ctx context.Context, b *browser, account *catalog.Account) error {
	form := map[string]string{
		"login_username": account.Username,
		"login_password": account.Password,
		"login":          "Whatever", // must be non-empty
	}
	body, err := c.do(ctx, b, http.MethodPost, c.login, form)
	if err != nil {
		metrics.ObserveFetch("login", "error")
		return fmt.Errorf("log in: %w", err)
	}
	if !c.isLoggedIn(body, account) {
		metrics.ObserveFetch("login", "rejected")
		return fmt.Errorf("log in as %s: %w", account.Username, ErrLoginFailed)
	}
	metrics.ObserveFetch("login", "ok")
	c.logger.Info("logged in to tracker", zap.String("username", account.Username))
	return nil
}

func (c *Client) isLoggedIn(body []byte, account *catalog.Account) bool {
	marker := fmt.Sprintf(c.cfg.UserMarker, account.UserID)
	return strings.Contains(string(body), marker)
}

// browser is one collector and the last response it produced. Its
// callbacks are registered once; every request starts from a reset capture.
type browser struct {
	collector *colly.Collector
	body      []byte
	status    int
	err       error
}

func (b *browser) reset() {
	b.body, b.status, b.err = nil, 0, nil
}

func (c *Client) do(
	ctx context.Context,
	b *browser,
	method string,
	target string,
	form map[string]string,
) ([]byte, error) {
	if err := c.limiter.Wait(ctx, target); err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	b.reset()

	var (
		data io.Reader
		hdr  http.Header
	)
	if form != nil {
		values := url.Values{}
		for k, v := range form {
			values.Set(k, v)
		}
		data = strings.NewReader(values.Encode())
		hdr = http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	}

	done := make(chan error, 1)
	go func() {
		done <- b.collector.Request(method, target, data, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Method: method, URL: target, Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			err = b.err
		}
		if err != nil {
			return nil, &TransportError{Method: method, URL: target, StatusCode: b.status, Err: err}
		}
		return b.body, nil
	}
}

func (c *Client) newBrowser() (*browser, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.WithTransport(c.transport)
	collector.SetCookieJar(jar)
	collector.SetRequestTimeout(c.cfg.ReadTimeout)

	b := &browser{collector: collector}
	collector.OnRequest(func(r *colly.Request) {
		if c.cfg.Encoding != "" {
			r.ResponseCharacterEncoding = c.cfg.Encoding
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		b.status = r.StatusCode
		b.body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			b.status = r.StatusCode
		}
		b.err = err
	})
	return b, nil
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse request path %q: %w", path, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func toCookies(values map[string]string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		out = append(out, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	return out
}

func fromCookies(cookies []*http.Cookie) map[string]string {
	if len(cookies) == 0 {
		return nil
	}
	out := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		out[ck.Name] = ck.Value
	}
	return out
}

func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
