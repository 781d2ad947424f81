package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"finitefield.org/meshfield-site/internal/site/adminauth"
	"finitefield.org/meshfield-site/internal/site/config"
	"finitefield.org/meshfield-site/internal/site/content"
	"finitefield.org/meshfield-site/internal/site/httpserver"
	"finitefield.org/meshfield-site/internal/site/observability"
	"finitefield.org/meshfield-site/internal/site/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "site: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Session.Generated {
		logger.Warn("session keys generated at startup; sessions will not survive a restart",
			zap.String("environment", cfg.Server.Environment),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Disabled:    !cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	authenticator, err := adminauth.FromConfig(ctx, cfg.Auth, logger.Named("adminauth"))
	if err != nil {
		return fmt.Errorf("init auth backend: %w", err)
	}

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.CookieSecure,
		Lifetime:     cfg.Session.Lifetime,
		IdleTimeout:  cfg.Session.IdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	pages, err := content.NewSource(content.Options{Dir: cfg.Site.ContentDir})
	if err != nil {
		return fmt.Errorf("init content: %w", err)
	}

	srv, err := httpserver.New(httpserver.Config{
		Address:          cfg.Server.Address,
		AdminBasePath:    cfg.Server.BasePath,
		SiteName:         cfg.Site.Name,
		DefaultTheme:     cfg.Site.DefaultTheme,
		Authenticator:    authenticator,
		Sessions:         sessions,
		Pages:            pages,
		Logger:           logger,
		DashboardPath:    cfg.Login.DashboardPath,
		LoginTimeout:     cfg.Login.Timeout,
		ControllerTTL:    cfg.Login.ControllerTTL,
		CSRFCookieName:   cfg.Server.CSRFCookieName,
		CSRFCookieSecure: cfg.Session.CookieSecure,
		CSRFHeaderName:   cfg.Server.CSRFHeaderName,
		CSRFFormField:    cfg.Server.CSRFFormField,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		IdleTimeout:      cfg.Server.IdleTimeout,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("site server listening",
		zap.String("addr", cfg.Server.Address),
		zap.String("admin_base_path", cfg.Server.BasePath),
		zap.String("auth_backend", cfg.Auth.Backend),
		zap.Bool("trace_export", cfg.Tracing.Endpoint != ""),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("site server stopped")
	return nil
}
