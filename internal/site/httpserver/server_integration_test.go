package httpserver_test

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"finitefield.org/meshfield-site/internal/site/content"
	"finitefield.org/meshfield-site/internal/site/httpserver"
	"finitefield.org/meshfield-site/internal/site/login"
	"finitefield.org/meshfield-site/internal/site/session"
	"finitefield.org/meshfield-site/internal/site/testutil"
)

func signIn(t *testing.T, client *http.Client, baseURL string, form url.Values, header http.Header) (*http.Response, []byte) {
	t.Helper()
	resp, _ := testutil.Get(t, client, baseURL+"/admin/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return testutil.PostForm(t, client, baseURL+"/admin/login", form, header)
}

func credentials(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

func TestRootRedirectsToAbout(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	resp, _ := testutil.Get(t, testutil.NewClient(t), ts.URL+"/")

	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/about", resp.Header.Get("Location"))
}

func TestAboutPageRenders(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	resp, body := testutil.Get(t, testutil.NewClient(t), ts.URL+"/about")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "en", resp.Header.Get("Content-Language"))

	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "About meshfield", testutil.TextOf(doc, "[data-about-page] h1"))
	require.Equal(t, "light", testutil.AttrOf(doc, "html", "data-theme"))
	require.Equal(t, "/about", testutil.AttrOf(doc, ".site-nav a.active", "href"))

	var links []string
	doc.Find("[data-about-links] a").Each(func(_ int, s *goquery.Selection) {
		links = append(links, s.AttrOr("href", ""))
	})
	require.Equal(t, []string{"/models", "/creators"}, links)
	require.NotEmpty(t, testutil.AttrOf(doc, `[data-theme-toggle] input[name="csrf_token"]`, "value"))
}

func TestAboutPageNegotiatesLanguage(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/about", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "ja", resp.Header.Get("Content-Language"))

	resp, body := testutil.Get(t, client, ts.URL+"/about?lang=ja")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "ja", testutil.AttrOf(doc, "html", "lang"))
	require.Equal(t, "概要", testutil.TextOf(doc, ".site-nav a.active"))
}

func TestThemeToggle(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	testutil.Get(t, client, ts.URL+"/about")
	resp, _ := testutil.PostForm(t, client, ts.URL+"/theme", url.Values{"return_to": {"/about"}}, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/about", resp.Header.Get("Location"))

	_, body := testutil.Get(t, client, ts.URL+"/about")
	require.Equal(t, "dark", testutil.ParseHTML(t, body).Find("html").AttrOr("data-theme", ""))

	resp, _ = testutil.PostForm(t, client, ts.URL+"/theme", url.Values{"return_to": {"https://evil.example/"}}, nil)
	require.Equal(t, "/about", resp.Header.Get("Location"))

	_, body = testutil.Get(t, client, ts.URL+"/about")
	require.Equal(t, "light", testutil.ParseHTML(t, body).Find("html").AttrOr("data-theme", ""))
}

func TestThemeDefaultIsInjected(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithDefaultTheme("dark"))
	_, body := testutil.Get(t, testutil.NewClient(t), ts.URL+"/about")
	require.Equal(t, "dark", testutil.ParseHTML(t, body).Find("html").AttrOr("data-theme", ""))
}

func TestThemeToggleRequiresCSRF(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)
	testutil.Get(t, client, ts.URL+"/about")

	resp, _ := testutil.PostForm(t, client, ts.URL+"/theme", url.Values{"csrf_token": {"forged"}}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDashboardRedirectsWithoutSession(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	resp, _ := testutil.Get(t, testutil.NewClient(t), ts.URL+"/admin")

	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/admin/login?next=%2Fadmin", resp.Header.Get("Location"))
}

func TestLoginFormRenders(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	resp, body := testutil.Get(t, testutil.NewClient(t), ts.URL+"/admin/login?next=/admin/models")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store, max-age=0", resp.Header.Get("Cache-Control"))

	doc := testutil.ParseHTML(t, body)
	form := doc.Find("form[data-login-form]")
	require.Equal(t, "/admin/login", form.AttrOr("action", ""))
	require.Equal(t, "/admin/models", form.Find(`input[name="next"]`).AttrOr("value", ""))
	require.Equal(t, 0, doc.Find("[data-login-error]").Length())
}

func TestLoginSuccessNavigatesToDashboard(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	resp, _ := signIn(t, client, ts.URL, credentials(" admin@example.com ", "correct"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/admin", resp.Header.Get("Location"))

	resp, body := testutil.Get(t, client, ts.URL+"/admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	require.Contains(t, doc.Find("[data-dashboard-user]").Text(), "admin@example.com")

	resp, _ = testutil.Get(t, client, ts.URL+"/admin/login")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/admin", resp.Header.Get("Location"))
}

func TestLoginSuccessHonoursSafeNext(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)

	cases := map[string]string{
		"/admin/models?page=2":     "/admin/models?page=2",
		"https://evil.example/":    "/admin",
		"//evil.example/admin":     "/admin",
		"/about":                   "/admin",
		"/admin/login":             "/admin",
		"/admin/../about":          "/admin",
		"/administrator/elsewhere": "/admin",
	}
	for next, want := range cases {
		form := credentials("admin@example.com", "correct")
		form.Set("next", next)
		resp, _ := signIn(t, testutil.NewClient(t), ts.URL, form, nil)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode, next)
		require.Equal(t, want, resp.Header.Get("Location"), next)
	}
}

func TestLoginHTMXUsesHXRedirect(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	resp, _ := signIn(t, testutil.NewClient(t), ts.URL,
		credentials("admin@example.com", "correct"),
		http.Header{"HX-Request": {"true"}},
	)

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "/admin", resp.Header.Get("HX-Redirect"))
}

func TestLoginRejectedShowsGenericError(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	resp, body := signIn(t, client, ts.URL, credentials("admin@example.com", "wrong"), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	doc := testutil.ParseHTML(t, body)
	require.Equal(t, login.MessageInvalidCredentials, testutil.TextOf(doc, "[data-login-error]"))
	require.Equal(t, "admin@example.com", testutil.AttrOf(doc, `input[name="email"]`, "value"))
	require.Equal(t, "", testutil.AttrOf(doc, `input[name="password"]`, "value"))
	require.NotContains(t, string(body), "wrong")

	resp, _ = testutil.Get(t, client, ts.URL+"/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestLoginBackendFailureShowsSameError(t *testing.T) {
	t.Parallel()

	auth := login.AuthenticatorFunc(func(context.Context, string, string) (bool, error) {
		return false, errors.New("dial tcp: connection refused")
	})
	ts := testutil.NewServer(t, testutil.WithAuthenticator(auth))

	resp, body := signIn(t, testutil.NewClient(t), ts.URL, credentials("admin@example.com", "correct"), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	doc := testutil.ParseHTML(t, body)
	require.Equal(t, login.MessageInvalidCredentials, testutil.TextOf(doc, "[data-login-error]"))
	require.NotContains(t, string(body), "connection refused")
}

func TestLoginBlankFieldsSkipBackend(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	auth := login.AuthenticatorFunc(func(context.Context, string, string) (bool, error) {
		calls.Add(1)
		return true, nil
	})
	ts := testutil.NewServer(t, testutil.WithAuthenticator(auth))

	for _, form := range []url.Values{
		credentials("", "secret"),
		credentials("   ", "secret"),
		credentials("admin@example.com", ""),
	} {
		resp, body := signIn(t, testutil.NewClient(t), ts.URL, form, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		doc := testutil.ParseHTML(t, body)
		require.Equal(t, login.MessageRequired, testutil.TextOf(doc, "[data-login-error]"))
	}
	require.Equal(t, int32(0), calls.Load())
}

func TestLoginRetryClearsError(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	resp, _ := signIn(t, client, ts.URL, credentials("admin@example.com", "wrong"), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = testutil.PostForm(t, client, ts.URL+"/admin/login", credentials("admin@example.com", "correct"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestLoginConcurrentSubmitIsRejected(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	auth := login.AuthenticatorFunc(func(ctx context.Context, _, _ string) (bool, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
	ts := testutil.NewServer(t, testutil.WithAuthenticator(auth))
	client := testutil.NewClient(t)

	testutil.Get(t, client, ts.URL+"/admin/login")
	token := testutil.CSRFToken(t, client, ts.URL+"/admin/login")
	require.NotEmpty(t, token)

	form := credentials("admin@example.com", "correct")
	form.Set("csrf_token", token)

	type result struct {
		status int
		err    error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := client.PostForm(ts.URL+"/admin/login", form)
		if err != nil {
			first <- result{err: err}
			return
		}
		resp.Body.Close()
		first <- result{status: resp.StatusCode}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first submission never reached the backend")
	}

	resp, body := testutil.PostForm(t, client, ts.URL+"/admin/login", form, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, login.MessageInFlight, testutil.TextOf(doc, "[data-login-error]"))
	_, disabled := doc.Find("[data-login-submit]").Attr("disabled")
	require.True(t, disabled)

	close(release)
	res := <-first
	require.NoError(t, res.err)
	require.Equal(t, http.StatusSeeOther, res.status)
	require.Equal(t, int32(1), calls.Load())
}

func TestLoginTimeoutShowsGenericError(t *testing.T) {
	t.Parallel()

	auth := login.AuthenticatorFunc(func(ctx context.Context, _, _ string) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	ts := testutil.NewServer(t,
		testutil.WithAuthenticator(auth),
		testutil.WithLoginTimeout(50*time.Millisecond),
	)

	resp, body := signIn(t, testutil.NewClient(t), ts.URL, credentials("admin@example.com", "correct"), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, login.MessageInvalidCredentials, testutil.TextOf(doc, "[data-login-error]"))
}

func TestLogoutEndsSession(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	resp, _ := signIn(t, client, ts.URL, credentials("admin@example.com", "correct"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = testutil.PostForm(t, client, ts.URL+"/admin/logout", nil, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/admin/login?status=logged_out", resp.Header.Get("Location"))

	resp, _ = testutil.Get(t, client, ts.URL+"/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	_, body := testutil.Get(t, client, ts.URL+"/admin/login?status=logged_out")
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "You have been signed out.", testutil.TextOf(doc, "[data-login-message]"))
}

func TestCustomAdminBasePath(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithAdminBasePath("/staff/"))
	client := testutil.NewClient(t)

	resp, _ := testutil.Get(t, client, ts.URL+"/staff")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/staff/login?next=%2Fstaff", resp.Header.Get("Location"))

	testutil.Get(t, client, ts.URL+"/staff/login")
	resp, _ = testutil.PostForm(t, client, ts.URL+"/staff/login", credentials("admin@example.com", "correct"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/staff", resp.Header.Get("Location"))
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	resp, body := testutil.Get(t, client, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, body = testutil.Get(t, client, ts.URL+"/public/static/site.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "data-theme")

	resp, body = testutil.Get(t, client, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "meshfield_admin_login_in_flight")
}

func TestPagesAreCompressed(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	client := testutil.NewClient(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/about", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, 1, doc.Find("[data-about-page]").Length())
}

func TestLoginIsTraced(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ts := testutil.NewServer(t, testutil.WithTracerProvider(tp))
	resp, _ := signIn(t, testutil.NewClient(t), ts.URL, credentials("admin@example.com", "correct"), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		byName[span.Name()] = span
	}
	server, ok := byName["POST /admin/login"]
	require.True(t, ok, "server span missing")
	submit, ok := byName["login.submit"]
	require.True(t, ok, "login span missing")
	require.Equal(t, server.SpanContext().TraceID(), submit.SpanContext().TraceID())
	require.Equal(t, server.SpanContext().SpanID(), submit.Parent().SpanID())
}

func TestNewRejectsControllerTTLWithinLoginTimeout(t *testing.T) {
	t.Parallel()

	sessions, err := session.NewManager(session.Config{HashKey: []byte("12345678901234567890123456789012")})
	require.NoError(t, err)
	pages, err := content.NewSource(content.Options{})
	require.NoError(t, err)

	_, err = httpserver.New(httpserver.Config{
		Authenticator: testutil.StaticAuthenticator("admin@example.com", "correct"),
		Sessions:      sessions,
		Pages:         pages,
		LoginTimeout:  time.Minute,
		ControllerTTL: 30 * time.Second,
	})
	require.Error(t, err)
}
