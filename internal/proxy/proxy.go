package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// APIPath is the route the listings API is served on, besides "/".
const APIPath = "/api/properties"

// Proxy represents the listings HTTP server.
type Proxy struct {
	mux    *http.ServeMux
	api    http.Handler
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// Option configures a Proxy.
type Option func(*options)

type options struct {
	admin       TokenAdmin
	branches    Branches
	allowOrigin string
	metrics     http.Handler
	observe     func(endpoint string, d time.Duration)
}

// WithDiagnostics enables the diagnostic endpoints backed by admin.
func WithDiagnostics(admin TokenAdmin) Option {
	return func(o *options) {
		o.admin = admin
	}
}

// WithBranches replaces DefaultBranches.
func WithBranches(branches Branches) Option {
	return func(o *options) {
		o.branches = branches
	}
}

// WithAllowOrigin sets Access-Control-Allow-Origin. Defaults to "*".
func WithAllowOrigin(origin string) Option {
	return func(o *options) {
		o.allowOrigin = origin
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) {
		o.metrics = h
	}
}

// WithRequestObserver is called with the duration of every listings request.
func WithRequestObserver(observe func(endpoint string, d time.Duration)) Option {
	return func(o *options) {
		o.observe = observe
	}
}

// New creates the listings server on top of listings.
func New(listings Listings, opts ...Option) (*Proxy, error) {
	if listings == nil {
		return nil, errors.New("listings client is required")
	}

	o := &options{allowOrigin: "*"}
	for _, opt := range opts {
		opt(o)
	}

	router := NewRouter(listings, o.admin, o.branches)
	if o.observe != nil {
		router.observe = o.observe
	}

	logger := slog.Default()

	api := applyMiddlewares(router,
		RequestID,
		Logging(logger),
		Recovery,
		CORS(o.allowOrigin),
		AllowGet,
	)

	mux := http.NewServeMux()

	mux.Handle(APIPath, api)
	mux.Handle("/{$}", api)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	if o.metrics != nil {
		mux.Handle("GET /metrics", o.metrics)
	}

	return &Proxy{mux: mux, api: api}, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// APIHandler returns the listings API handler with all middlewares, independent of
// the request path. Serverless platforms route to it directly.
func (p *Proxy) APIHandler() http.Handler {
	return p.api
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request
		WriteTimeout: 60 * time.Second, // Inbound: Upstream fetch plus retry must fit
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
