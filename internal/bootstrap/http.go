package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/mmk-scan-api/config"
	httpx "github.com/target/mmk-scan-api/internal/http"
	"golang.org/x/sync/errgroup"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// NewHTTPServer builds the scan API server without starting it.
func NewHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Scans: cfg.Services.Scans,
		APIKey: httpx.APIKeyConfig{
			Key:    appCfg.Auth.APIKey,
			Header: appCfg.Auth.Header,
		},
		RateLimit: httpx.RateLimitConfig{
			Requests:   appCfg.HTTP.RateLimitRequests,
			Window:     appCfg.HTTP.RateLimitWindow,
			TrustProxy: appCfg.HTTP.TrustProxy,
		},
		Logger: logger,
		IsDev:  appCfg.IsDev,
	})

	// Guard against empty addr to avoid listening on Go default
	addr := appCfg.HTTP.Addr
	if addr == "" {
		addr = ":3000"
	}

	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  appCfg.HTTP.ReadTimeout,
		WriteTimeout: appCfg.HTTP.WriteTimeout,
		IdleTimeout:  appCfg.HTTP.IdleTimeout,
	}
}

// RunHTTPServer serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts the
// server down and waits for in-flight failure notifications.
func RunHTTPServer(ctx context.Context, cfg *HTTPServerConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("http server config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	server := NewHTTPServer(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return ShutdownHTTPServer(ShutdownConfig{
			Context:  context.WithoutCancel(gctx),
			Server:   server,
			Services: cfg.Services,
			Timeout:  cfg.Config.HTTP.ShutdownTimeout,
			Logger:   logger,
		})
	})
	return g.Wait()
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context  context.Context
	Server   *http.Server
	Services ServiceContainer
	Timeout  time.Duration
	Logger   *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Handlers may have queued failure notifications; let them finish.
	if cfg.Services.Reconciler != nil {
		cfg.Services.Reconciler.Wait()
	}

	logger.Info("HTTP server stopped")
	return nil
}
