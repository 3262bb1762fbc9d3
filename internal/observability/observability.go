// Package observability configures the process-wide logger.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Supported log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatOTel = "otel"
)

// scopeName identifies log records emitted through the OpenTelemetry bridge.
const scopeName = "github.com/florianilch/vebra-proxy"

// redacted replaces the value of attributes that may carry secrets.
const redacted = "[redacted]"

var secretKeys = []string{"password", "token", "authorization", "secret"}

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger for the given level and format.
// The returned ShutdownFunc must be called before exit to flush buffered records.
func Instrument(ctx context.Context, level slog.Level, format string) (ShutdownFunc, error) {
	return instrument(ctx, os.Stderr, level, format, os.Getenv)
}

func instrument(ctx context.Context, w io.Writer, level slog.Level, format string, getenv func(string) string) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	switch format {
	case FormatText, "":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, handlerOptions(level))))
		return noop, nil
	case FormatJSON:
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, handlerOptions(level))))
		return noop, nil
	case FormatOTel:
		exporter, err := newExporter(ctx, w, getenv)
		if err != nil {
			return nil, fmt.Errorf("creating log exporter: %w", err)
		}

		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level))),
		)
		slog.SetDefault(slog.New(otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(provider))))
		return provider.Shutdown, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newExporter picks the exporter the way the OpenTelemetry SDK environment
// variables describe it: OTEL_LOGS_EXPORTER selects stdout or otlp, and
// OTEL_EXPORTER_OTLP_PROTOCOL selects the otlp transport.
func newExporter(ctx context.Context, w io.Writer, getenv func(string) string) (sdklog.Exporter, error) {
	switch exporter := strings.ToLower(getenv("OTEL_LOGS_EXPORTER")); exporter {
	case "", "console", "stdout":
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case "otlp":
		protocol := getenv("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL")
		if protocol == "" {
			protocol = getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
		}
		switch protocol {
		case "", "http/protobuf":
			return otlploghttp.New(ctx)
		case "grpc":
			return otlploggrpc.New(ctx)
		default:
			return nil, fmt.Errorf("unsupported OTLP protocol: %s", protocol)
		}
	default:
		return nil, errors.New("unsupported OTEL_LOGS_EXPORTER: " + exporter)
	}
}

func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}
}

// redact masks string attributes whose key names a secret.
func redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString || a.Value.String() == "" {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}
