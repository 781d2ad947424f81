package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	custommw "finitefield.org/meshfield-site/internal/site/httpserver/middleware"
	"finitefield.org/meshfield-site/internal/site/login"
	"finitefield.org/meshfield-site/internal/site/observability"
	"finitefield.org/meshfield-site/internal/site/session"
)

func TestSanitizeNextTarget(t *testing.T) {
	cases := []struct {
		name string
		base string
		raw  string
		want string
	}{
		{name: "empty", base: "/admin", raw: "", want: ""},
		{name: "base itself", base: "/admin", raw: "/admin", want: "/admin"},
		{name: "nested with query", base: "/admin", raw: "/admin/models?page=2#top", want: "/admin/models?page=2#top"},
		{name: "absolute url", base: "/admin", raw: "https://evil.example/admin", want: ""},
		{name: "protocol relative", base: "/admin", raw: "//evil.example/admin", want: ""},
		{name: "backslash", base: "/admin", raw: "/admin\\..\\about", want: ""},
		{name: "escaped traversal", base: "/admin", raw: "/admin/%2e%2e/about", want: ""},
		{name: "outside base", base: "/admin", raw: "/about", want: ""},
		{name: "prefix lookalike", base: "/admin", raw: "/admins", want: ""},
		{name: "root base allows site paths", base: "/", raw: "/about", want: "/about"},
		{name: "javascript scheme", base: "/", raw: "javascript:alert(1)", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, sanitizeNextTarget(tc.base, tc.raw))
		})
	}
}

func TestNormalizeNextRejectsLoginPath(t *testing.T) {
	h := &authHandlers{basePath: "/admin", loginPath: "/admin/login"}

	require.Equal(t, "", h.normalizeNext("/admin/login/"))
	require.Equal(t, "/admin/models", h.normalizeNext("/admin/models"))
	require.Equal(t, "/admin", h.redirectTarget("/about", "/admin"))
	require.Equal(t, "/admin/models", h.redirectTarget("/admin/models", "/admin"))
}

func TestNormalizeBasePath(t *testing.T) {
	require.Equal(t, "/admin", normalizeBasePath(""))
	require.Equal(t, "/admin", normalizeBasePath("/"))
	require.Equal(t, "/staff", normalizeBasePath("staff/"))
	require.Equal(t, "/ops/admin", normalizeBasePath(" /ops/admin/ "))
}

func newHandlerFixture(t *testing.T, auth login.Authenticator) (*authHandlers, *login.Registry, *session.Manager) {
	t.Helper()

	sessions, err := session.NewManager(session.Config{
		CookieName: "fixture_session",
		HashKey:    []byte("12345678901234567890123456789012"),
	})
	require.NoError(t, err)

	reg := login.NewRegistry(0, func() *login.Controller {
		return login.NewController(auth, login.Options{DashboardPath: "/admin"})
	})
	return newAuthHandlers(reg, "/admin", "/admin/login"), reg, sessions
}

func TestLoginFormDoesNotAllocateControllers(t *testing.T) {
	accept := login.AuthenticatorFunc(func(context.Context, string, string) (bool, error) { return true, nil })
	h, reg, sessions := newHandlerFixture(t, accept)
	handler := custommw.Session(sessions)(http.HandlerFunc(h.LoginForm))

	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 0, reg.Len())
}

func TestLoginSubmitKeepsEmailOutOfLogs(t *testing.T) {
	accept := login.AuthenticatorFunc(func(context.Context, string, string) (bool, error) { return true, nil })
	h, reg, sessions := newHandlerFixture(t, accept)
	handler := custommw.Session(sessions)(http.HandlerFunc(h.LoginSubmit))

	core, logs := observer.New(zapcore.DebugLevel)
	form := url.Values{"email": {"owner@example.com"}, "password": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(observability.WithLogger(req.Context(), zap.New(core)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, 0, reg.Len())

	signedIn := logs.FilterMessage("admin signed in").All()
	require.Len(t, signedIn, 1)
	for _, entry := range logs.All() {
		for _, field := range entry.Context {
			require.NotContains(t, field.String, "owner@example.com", "field %s", field.Key)
		}
	}
}
