package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"finitefield.org/meshfield-site/internal/site/observability"
)

// CSRFFormField is the default form field carrying the token for plain HTML forms.
const CSRFFormField = "csrf_token"

const csrfTokenBytes = 32

type csrfContextKey struct{}

type csrfState struct {
	token string
	field string
}

// CSRFConfig controls where the double-submit token is stored and read from.
// Zero values fall back to defaults.
type CSRFConfig struct {
	CookieName string
	CookiePath string
	// HeaderName is checked first, for htmx and script callers.
	HeaderName string
	// FormField is checked when the header is absent.
	FormField string
	MaxAge    time.Duration
	Secure    bool
}

func (c CSRFConfig) withDefaults() CSRFConfig {
	if c.CookieName == "" {
		c.CookieName = "meshfield_csrf"
	}
	if c.CookiePath == "" {
		c.CookiePath = "/"
	}
	if c.HeaderName == "" {
		c.HeaderName = "X-CSRF-Token"
	}
	if c.FormField == "" {
		c.FormField = CSRFFormField
	}
	if c.MaxAge == 0 {
		c.MaxAge = 24 * time.Hour
	}
	return c
}

// CSRF enforces double-submit cookie protection. Every request gets a token
// cookie; requests with side effects must echo it in the header or form field.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := cfg.issue(w, r)
			if err != nil {
				observability.FromContext(r.Context()).Error("csrf token issue failed", zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if mutates(r.Method) && !cfg.matches(r, token) {
				observability.FromContext(r.Context()).Warn("csrf token mismatch",
					zap.String("method", r.Method),
				)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), csrfContextKey{}, csrfState{token: token, field: cfg.FormField})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CSRFTokenFromContext returns the token to embed in forms rendered for this request.
func CSRFTokenFromContext(ctx context.Context) string {
	state, _ := ctx.Value(csrfContextKey{}).(csrfState)
	return state.token
}

// CSRFFieldFromContext returns the form field name the token must be posted under.
func CSRFFieldFromContext(ctx context.Context) string {
	if state, ok := ctx.Value(csrfContextKey{}).(csrfState); ok {
		return state.field
	}
	return CSRFFormField
}

// issue reuses the token cookie when present and sets a fresh one otherwise.
func (c CSRFConfig) issue(w http.ResponseWriter, r *http.Request) (string, error) {
	if existing, err := r.Cookie(c.CookieName); err == nil && existing.Value != "" {
		return existing.Value, nil
	}

	raw := securecookie.GenerateRandomKey(csrfTokenBytes)
	if raw == nil {
		return "", errors.New("csrf: random source unavailable")
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName,
		Value:    token,
		Path:     c.CookiePath,
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

func (c CSRFConfig) matches(r *http.Request, token string) bool {
	submitted := r.Header.Get(c.HeaderName)
	if submitted == "" {
		submitted = r.PostFormValue(c.FormField)
	}
	if submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) == 1
}

func mutates(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}
