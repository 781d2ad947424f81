package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	custommw "finitefield.org/meshfield-site/internal/site/httpserver/middleware"
	"finitefield.org/meshfield-site/internal/site/login"
	"finitefield.org/meshfield-site/internal/site/observability"
	appsession "finitefield.org/meshfield-site/internal/site/session"
	"finitefield.org/meshfield-site/internal/site/templates/auth"
	"finitefield.org/meshfield-site/internal/site/templates/layout"
)

const (
	messageLoggedOut   = "You have been signed out."
	messageFormInvalid = "The form could not be read. Please try again."
)

type authHandlers struct {
	controllers *login.Registry
	basePath    string
	loginPath   string
}

func newAuthHandlers(controllers *login.Registry, basePath, loginPath string) *authHandlers {
	if controllers == nil {
		panic("auth: controller registry is required")
	}
	return &authHandlers{
		controllers: controllers,
		basePath:    basePath,
		loginPath:   loginPath,
	}
}

func (h *authHandlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	if h.isAuthenticated(r) && !forceLogin(r) {
		target := h.redirectTarget(r.URL.Query().Get("next"), h.basePath)
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	state := &loginFormState{}
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		if ctrl, ok := h.controllers.Peek(sess.ID()); ok {
			state.Submitting = ctrl.State().Submitting()
		}
	}
	data := h.buildLoginPageData(r, state)
	h.renderLoginPage(w, r, data, http.StatusOK)
}

func (h *authHandlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		state := &loginFormState{Error: messageFormInvalid}
		data := h.buildLoginPageData(r, state)
		h.renderLoginPage(w, r, data, http.StatusBadRequest)
		return
	}

	state := &loginFormState{
		Email: strings.TrimSpace(r.PostFormValue("email")),
		Next:  r.PostFormValue("next"),
	}

	sess, ok := custommw.SessionFromContext(r.Context())
	if !ok {
		logger.Error("login submit without session")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	nav := &redirectNavigator{}
	ctrl := h.controllers.For(sess.ID())
	snap, err := ctrl.Submit(r.Context(), login.Credentials{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}, nav)

	switch {
	case errors.Is(err, login.ErrSubmissionInFlight):
		state.Error = login.MessageInFlight
		state.Submitting = true
		h.renderLoginPage(w, r, h.buildLoginPageData(r, state), http.StatusConflict)
		return
	case errors.Is(err, login.ErrMissingCredentials):
		state.Error = snap.Error
		h.renderLoginPage(w, r, h.buildLoginPageData(r, state), http.StatusBadRequest)
		return
	case err != nil:
		logger.Error("login submit failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	case snap.Phase != login.PhaseSuccess || nav.target == "":
		state.Error = snap.Error
		h.renderLoginPage(w, r, h.buildLoginPageData(r, state), http.StatusUnauthorized)
		return
	}

	previousID := sess.ID()
	sess.SetUser(&appsession.User{Email: state.Email, SignedInAt: time.Now().UTC()})
	sess.Renew()
	h.controllers.Forget(previousID)
	logger.Info("admin signed in")

	target := h.redirectTarget(state.Next, nav.target)
	if custommw.IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *authHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		h.controllers.Forget(sess.ID())
		sess.Destroy()
	}

	redirect := h.loginURLWithParams(map[string]string{
		"status": "logged_out",
	})

	if custommw.IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", redirect)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// redirectNavigator records the controller's navigation request so the handler
// can turn it into a redirect.
type redirectNavigator struct {
	target string
}

func (n *redirectNavigator) Navigate(path string) {
	n.target = path
}

type loginFormState struct {
	Email      string
	Next       string
	Error      string
	Message    string
	Submitting bool
}

func (h *authHandlers) buildLoginPageData(r *http.Request, state *loginFormState) auth.LoginPageData {
	q := url.Values{}
	if r.URL != nil {
		q = r.URL.Query()
	}
	if state == nil {
		state = &loginFormState{}
	}

	next := h.normalizeNext(state.Next)
	if next == "" {
		next = h.normalizeNext(q.Get("next"))
	}

	message := state.Message
	if strings.TrimSpace(message) == "" {
		message = messageForQuery(q)
	}

	email := state.Email
	if email == "" {
		email = strings.TrimSpace(q.Get("email"))
	}

	return auth.LoginPageData{
		Chrome:     layout.NewChrome(r.Context(), "Admin sign in", "en"),
		Email:      email,
		Message:    message,
		Error:      state.Error,
		Next:       next,
		LoginPath:  h.loginPath,
		Submitting: state.Submitting,
	}
}

func (h *authHandlers) renderLoginPage(w http.ResponseWriter, r *http.Request, data auth.LoginPageData, status int) {
	templ.Handler(auth.LoginPage(data), templ.WithStatus(status)).ServeHTTP(w, r)
}

func (h *authHandlers) isAuthenticated(r *http.Request) bool {
	sess, ok := custommw.SessionFromContext(r.Context())
	if !ok {
		return false
	}
	user := sess.User()
	return user != nil && strings.TrimSpace(user.Email) != ""
}

func messageForQuery(q url.Values) string {
	if q == nil {
		return ""
	}
	if q.Get("status") == "logged_out" {
		return messageLoggedOut
	}
	return ""
}

func (h *authHandlers) redirectTarget(raw, fallback string) string {
	if next := h.normalizeNext(raw); next != "" {
		return next
	}
	if strings.TrimSpace(fallback) == "" {
		return h.basePath
	}
	return fallback
}

func (h *authHandlers) loginURLWithParams(params map[string]string) string {
	parsed, err := url.Parse(h.loginPath)
	if err != nil {
		return h.loginPath
	}
	q := parsed.Query()
	for key, val := range params {
		if strings.TrimSpace(val) == "" {
			continue
		}
		q.Set(key, val)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func forceLogin(r *http.Request) bool {
	if r == nil || r.URL == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("force"))) {
	case "1", "true", "yes", "force":
		return true
	default:
		return false
	}
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	trim := func(p string) string {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		for len(p) > 1 && strings.HasSuffix(p, "/") {
			p = strings.TrimSuffix(p, "/")
		}
		return p
	}
	return trim(a) == trim(b)
}

func (h *authHandlers) normalizeNext(raw string) string {
	sanitized := sanitizeNextTarget(h.basePath, raw)
	if sanitized == "" {
		return ""
	}
	if h.loginPath != "" && samePath(pathOnly(sanitized), h.loginPath) {
		return ""
	}
	return sanitized
}

// sanitizeNextTarget accepts only same-origin paths under basePath and returns
// them cleaned, keeping any query and fragment.
func sanitizeNextTarget(basePath, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" || parsed.Host != "" || parsed.Opaque != "" {
		return ""
	}

	pathValue := parsed.Path
	if pathValue == "" {
		pathValue = "/"
	}

	unescaped, err := url.PathUnescape(pathValue)
	if err != nil {
		return ""
	}
	if strings.Contains(unescaped, "\\") {
		return ""
	}

	cleaned := path.Clean(unescaped)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	if strings.HasPrefix(cleaned, "//") {
		return ""
	}

	normalisedBase := normalizeBase(basePath)
	if normalisedBase != "/" && !hasSafePrefix(cleaned, normalisedBase) {
		return ""
	}

	target := cleaned
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	if parsed.Fragment != "" {
		target += "#" + parsed.Fragment
	}
	return target
}

func normalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if len(base) > 1 {
		base = strings.TrimRight(base, "/")
	}
	if base == "" {
		return "/"
	}
	return base
}

func hasSafePrefix(pathValue, base string) bool {
	if base == "/" {
		return strings.HasPrefix(pathValue, "/")
	}
	if !strings.HasPrefix(pathValue, base) {
		return false
	}
	if len(pathValue) == len(base) {
		return true
	}
	return pathValue[len(base)] == '/'
}

func pathOnly(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Path
}
