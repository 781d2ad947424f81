package middleware

import (
	"context"
	"net/http"
	"strings"
)

type requestInfoKeyType int

const requestInfoKey requestInfoKeyType = iota

// RequestInfo holds lightweight request metadata exposed to templates.
type RequestInfo struct {
	Path      string
	AdminBase string
	Method    string
	SiteName  string
}

// RequestInfoMiddleware annotates the context with the current request path, the admin base path and the site name.
func RequestInfoMiddleware(adminBase, siteName string) func(http.Handler) http.Handler {
	base := normaliseBase(adminBase)
	name := strings.TrimSpace(siteName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := &RequestInfo{
				Path:      r.URL.Path,
				Method:    r.Method,
				AdminBase: base,
				SiteName:  name,
			}
			ctx := context.WithValue(r.Context(), requestInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestInfoFromContext returns the request metadata stored by RequestInfoMiddleware.
func RequestInfoFromContext(ctx context.Context) (*RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey).(*RequestInfo)
	return info, ok && info != nil
}

// RequestPathFromContext returns the request path or empty string when unavailable.
func RequestPathFromContext(ctx context.Context) string {
	if info, ok := RequestInfoFromContext(ctx); ok {
		return info.Path
	}
	return ""
}

// AdminBaseFromContext returns the admin base path or "/admin" when unavailable.
func AdminBaseFromContext(ctx context.Context) string {
	if info, ok := RequestInfoFromContext(ctx); ok && info.AdminBase != "" {
		return info.AdminBase
	}
	return "/admin"
}

// SiteNameFromContext returns the configured site name.
func SiteNameFromContext(ctx context.Context) string {
	if info, ok := RequestInfoFromContext(ctx); ok && info.SiteName != "" {
		return info.SiteName
	}
	return "meshfield"
}

func normaliseBase(base string) string {
	base = strings.TrimSpace(base)
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	base = strings.TrimRight(base, "/")
	if base == "" {
		return "/admin"
	}
	return base
}
