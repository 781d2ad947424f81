package middleware

import (
	"context"
	"net/http"
	"strings"
)

type themeContextKey struct{}

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Theme resolves the visitor's colour scheme from the session, falling back to
// the configured default, and attaches it to the request context.
// Must run after Session.
func Theme(defaultTheme string) func(http.Handler) http.Handler {
	fallback := NormalizeTheme(defaultTheme)
	if fallback == "" {
		fallback = ThemeLight
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			theme := fallback
			if sess, ok := SessionFromContext(r.Context()); ok {
				if stored := NormalizeTheme(sess.Theme()); stored != "" {
					theme = stored
				}
			}
			ctx := context.WithValue(r.Context(), themeContextKey{}, theme)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ThemeFromContext returns the resolved theme, defaulting to light.
func ThemeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ThemeLight
	}
	if value, ok := ctx.Value(themeContextKey{}).(string); ok && value != "" {
		return value
	}
	return ThemeLight
}

// NormalizeTheme returns a known theme value or empty.
func NormalizeTheme(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ThemeLight:
		return ThemeLight
	case ThemeDark:
		return ThemeDark
	default:
		return ""
	}
}

// ToggleTheme flips between light and dark.
func ToggleTheme(current string) string {
	if NormalizeTheme(current) == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}
