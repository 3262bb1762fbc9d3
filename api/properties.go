// Package handler is the Vercel serverless entry point. Vercel serves this file
// at /api/properties.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/florianilch/vebra-proxy/internal/app"
	"github.com/florianilch/vebra-proxy/internal/observability"
)

var application = sync.OnceValues(func() (http.Handler, error) {
	return newHandler(os.Environ)
})

// Configuration comes from the environment only; there is no config file or flags.
func newHandler(environ func() []string) (http.Handler, error) {
	cfg, err := app.LoadConfig("", nil, environ)
	if err != nil {
		return nil, err
	}

	// Buffered exporters cannot be flushed between invocations.
	if cfg.LogFormat == app.LogFormatOTel {
		cfg.LogFormat = app.LogFormatJSON
	}
	if _, err := observability.Instrument(context.Background(), cfg.LogLevel, string(cfg.LogFormat)); err != nil {
		return nil, err
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	return a.Handler(), nil
}

// Handler is the entry point for Vercel's Go runtime.
func Handler(w http.ResponseWriter, r *http.Request) {
	h, err := application()
	if err != nil {
		slog.ErrorContext(r.Context(), "proxy not configured", "error", err)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "Failed to fetch data",
			"message": err.Error(),
		})
		return
	}
	h.ServeHTTP(w, r)
}
