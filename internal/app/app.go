package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/vebra-proxy/internal/metrics"
	"github.com/florianilch/vebra-proxy/internal/proxy"
	"github.com/florianilch/vebra-proxy/internal/vebra"
)

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg    *Config
	client *vebra.Client
	proxy  *proxy.Proxy
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// I/O deferred to the first upstream request
	client, m, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed client: %w", err)
	}

	opts := []proxy.Option{
		proxy.WithBranches(cfg.ProxyBranches()),
		proxy.WithAllowOrigin(cfg.CORS.AllowOrigin),
		proxy.WithMetricsHandler(m.Handler()),
		proxy.WithRequestObserver(m.ObserveRequest),
	}
	if cfg.Diagnostics.Enabled {
		slog.Warn("diagnostic endpoints enabled; do not expose them publicly")
		opts = append(opts, proxy.WithDiagnostics(client.Acquirer()))
	}

	proxyServer, err := proxy.New(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:    cfg,
		client: client,
		proxy:  proxyServer,
	}, nil
}

// Handler returns the listings API handler for serverless entry points.
func (a *App) Handler() http.Handler {
	return a.proxy.APIHandler()
}

// Client returns the feed client.
func (a *App) Client() *vebra.Client {
	return a.client
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "upstream", a.cfg.Upstream.BaseURL)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// newClient creates the feed client and the metrics it reports to.
// No I/O is performed.
func newClient(cfg *Config) (*vebra.Client, *metrics.Metrics, error) {
	creds, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	m := metrics.New()

	client, err := vebra.NewClient(creds,
		vebra.WithBaseURL(cfg.Upstream.BaseURL),
		vebra.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}),
		vebra.WithTokenHeaders(cfg.Upstream.TokenHeaders...),
		vebra.WithTokenEncoding(cfg.Upstream.TokenEncoding),
		vebra.WithTokenTTL(cfg.Upstream.TokenTTL),
		vebra.WithCooldown(cfg.Upstream.Cooldown),
		vebra.WithRecorder(m),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, m, nil
}
