package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finitefield.org/meshfield-site/internal/site/content"
	"finitefield.org/meshfield-site/internal/site/httpserver"
	"finitefield.org/meshfield-site/internal/site/login"
	"finitefield.org/meshfield-site/internal/site/session"
)

// CSRFCookieName is the CSRF cookie used by servers built with NewServer.
const CSRFCookieName = "test_csrf"

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithAuthenticator overrides the credential backend.
func WithAuthenticator(auth login.Authenticator) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Authenticator = auth
	}
}

// WithAdminBasePath sets a custom base path for the admin routes.
func WithAdminBasePath(path string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.AdminBasePath = path
	}
}

// WithLoginTimeout bounds each credential check.
func WithLoginTimeout(d time.Duration) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.LoginTimeout = d
	}
}

// WithTracerProvider routes request and login spans to tp.
func WithTracerProvider(tp trace.TracerProvider) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.TracerProvider = tp
	}
}

// WithDefaultTheme sets the theme used when the visitor has no preference.
func WithDefaultTheme(theme string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.DefaultTheme = theme
	}
}

// StaticAuthenticator accepts exactly one email/password pair.
func StaticAuthenticator(email, password string) login.Authenticator {
	return login.AuthenticatorFunc(func(_ context.Context, e, p string) (bool, error) {
		return e == email && p == password, nil
	})
}

// NewServer constructs an httptest server running the site HTTP stack with sensible defaults.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	sessions, err := session.NewManager(session.Config{
		CookieName: "test_session",
		HashKey:    []byte("12345678901234567890123456789012"),
		BlockKey:   []byte("abcdefghijklmnopqrstuv0123456789"),
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	pages, err := content.NewSource(content.Options{})
	if err != nil {
		t.Fatalf("content source: %v", err)
	}

	cfg := httpserver.Config{
		Address:        ":0",
		AdminBasePath:  "/admin",
		SiteName:       "meshfield",
		DefaultTheme:   "light",
		Authenticator:  StaticAuthenticator("admin@example.com", "correct"),
		Sessions:       sessions,
		Pages:          pages,
		LoginTimeout:   5 * time.Second,
		CSRFCookieName: CSRFCookieName,
		CSRFHeaderName: "X-CSRF-Token",
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := httpserver.New(cfg)
	if err != nil {
		t.Fatalf("httpserver: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

// NewClient returns a client with a cookie jar that does not follow redirects.
func NewClient(t testing.TB) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Get issues a GET and returns the response with its body read.
func Get(t testing.TB, client *http.Client, rawURL string) (*http.Response, []byte) {
	t.Helper()

	resp, err := client.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	return drain(t, resp)
}

// PostForm issues a form POST with the CSRF token from the client's jar.
func PostForm(t testing.TB, client *http.Client, rawURL string, form url.Values, header http.Header) (*http.Response, []byte) {
	t.Helper()

	if form == nil {
		form = url.Values{}
	}
	if form.Get("csrf_token") == "" {
		form.Set("csrf_token", CSRFToken(t, client, rawURL))
	}
	req, err := http.NewRequest(http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", rawURL, err)
	}
	return drain(t, resp)
}

// CSRFToken returns the CSRF cookie stored in the client's jar for rawURL.
func CSRFToken(t testing.TB, client *http.Client, rawURL string) string {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if client.Jar != nil {
		for _, c := range client.Jar.Cookies(u) {
			if c.Name == CSRFCookieName {
				return c.Value
			}
		}
	}
	return ""
}

func drain(t testing.TB, resp *http.Response) (*http.Response, []byte) {
	t.Helper()

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}
