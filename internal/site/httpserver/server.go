package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finitefield.org/meshfield-site/internal/site/content"
	custommw "finitefield.org/meshfield-site/internal/site/httpserver/middleware"
	"finitefield.org/meshfield-site/internal/site/login"
	"finitefield.org/meshfield-site/internal/site/observability"
	"finitefield.org/meshfield-site/public"
)

// PageSource resolves rendered static pages.
type PageSource interface {
	Page(ctx context.Context, slug, lang string) (content.Page, error)
	ResolveLang(acceptLanguage string) string
}

// Config holds runtime options for the site HTTP server.
type Config struct {
	Address       string
	AdminBasePath string
	SiteName      string
	DefaultTheme  string

	Authenticator login.Authenticator
	Sessions      custommw.SessionStore
	Pages         PageSource
	Logger        *zap.Logger

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	DashboardPath  string
	LoginTimeout   time.Duration
	ControllerTTL  time.Duration
	RequestTimeout time.Duration

	CSRFCookieName   string
	CSRFCookieSecure bool
	CSRFHeaderName   string
	CSRFFormField    string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// New constructs the HTTP server with middleware stack and embedded assets.
func New(cfg Config) (*http.Server, error) {
	if cfg.Authenticator == nil {
		return nil, errors.New("httpserver: authenticator is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("httpserver: session store is required")
	}
	if cfg.Pages == nil {
		return nil, errors.New("httpserver: page source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	requestTimeout := durationOr(cfg.RequestTimeout, 60*time.Second)
	loginTimeout := durationOr(cfg.LoginTimeout, 15*time.Second)
	controllerTTL := durationOr(cfg.ControllerTTL, 30*time.Minute)
	if controllerTTL <= loginTimeout {
		return nil, fmt.Errorf("httpserver: controller ttl %s must exceed login timeout %s", controllerTTL, loginTimeout)
	}

	staticContent, err := public.StaticFS()
	if err != nil {
		return nil, fmt.Errorf("embed static: %w", err)
	}

	basePath := normalizeBasePath(cfg.AdminBasePath)
	loginPath := basePath + "/login"
	dashboardPath := strings.TrimSpace(cfg.DashboardPath)
	if dashboardPath == "" {
		dashboardPath = basePath
	}

	controllers := login.NewRegistry(controllerTTL, func() *login.Controller {
		return login.NewController(cfg.Authenticator, login.Options{
			DashboardPath:  dashboardPath,
			Timeout:        loginTimeout,
			Logger:         logger.Named("login"),
			TracerProvider: cfg.TracerProvider,
		})
	})

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.TraceRequests(cfg.TracerProvider))
	router.Use(observability.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(requestTimeout))

	compress := chimw.Compress(5)

	router.With(compress).Handle("/public/static/*", http.StripPrefix("/public/static/", http.FileServer(http.FS(staticContent))))
	router.Get("/healthz", healthHandler)
	router.Handle("/metrics", promhttp.Handler())

	csrfCfg := custommw.CSRFConfig{
		CookieName: cfg.CSRFCookieName,
		CookiePath: "/",
		HeaderName: cfg.CSRFHeaderName,
		FormField:  cfg.CSRFFormField,
		Secure:     cfg.CSRFCookieSecure,
	}

	router.Group(func(r chi.Router) {
		r.Use(compress)
		r.Use(custommw.RequestInfoMiddleware(basePath, cfg.SiteName))
		r.Use(custommw.HTMX())
		r.Use(custommw.Session(cfg.Sessions))
		r.Use(custommw.Theme(cfg.DefaultTheme))
		r.Use(custommw.CSRF(csrfCfg))

		pages := newPageHandlers(cfg.Pages, basePath+"/logout")
		r.Get("/", pages.Home)
		r.Get("/about", pages.About)
		r.Post("/theme", pages.ToggleTheme)

		mountAdminRoutes(r, basePath, routeOptions{
			Auth:      newAuthHandlers(controllers, basePath, loginPath),
			Pages:     pages,
			LoginPath: loginPath,
		})
	})

	return &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}, nil
}

type routeOptions struct {
	Auth      *authHandlers
	Pages     *pageHandlers
	LoginPath string
}

func mountAdminRoutes(router chi.Router, base string, opts routeOptions) {
	router.Route(base, func(r chi.Router) {
		r.Use(custommw.NoStore())

		r.Get("/login", opts.Auth.LoginForm)
		r.Post("/login", opts.Auth.LoginSubmit)
		r.Post("/logout", opts.Auth.Logout)

		r.With(custommw.RequireAdmin(opts.LoginPath)).Get("/", opts.Pages.Dashboard)
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// normalizeBasePath returns a rooted path without a trailing slash. The admin
// area cannot live at the site root, so "/" falls back to "/admin".
func normalizeBasePath(path string) string {
	p := strings.TrimSpace(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/admin"
	}
	return p
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
