package middleware

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"finitefield.org/meshfield-site/internal/site/observability"
	appsession "finitefield.org/meshfield-site/internal/site/session"
)

type adminContextKey struct{}

// RequireAdmin admits requests whose session carries a signed-in admin and
// redirects everyone else to loginPath, preserving the requested path as next.
// Must run after Session.
func RequireAdmin(loginPath string) func(http.Handler) http.Handler {
	if loginPath == "" {
		loginPath = "/admin/login"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok || sess.User() == nil || sess.User().Email == "" {
				observability.FromContext(r.Context()).Debug("admin session required",
					zap.String("path", r.URL.Path),
				)
				handleUnauthorized(w, r, loginPath)
				return
			}

			ctx := context.WithValue(r.Context(), adminContextKey{}, sess.User())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext retrieves the signed-in admin if present.
func AdminFromContext(ctx context.Context) (*appsession.User, bool) {
	user, ok := ctx.Value(adminContextKey{}).(*appsession.User)
	return user, ok && user != nil
}

func handleUnauthorized(w http.ResponseWriter, r *http.Request, loginPath string) {
	if IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", loginPath)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	redirectURL := loginPath
	if r.Method == http.MethodGet {
		if u, err := url.Parse(loginPath); err == nil {
			q := u.Query()
			q.Set("next", r.URL.RequestURI())
			u.RawQuery = q.Encode()
			redirectURL = u.String()
		}
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}
