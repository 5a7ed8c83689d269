// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

const sentryFlushTimeout = 2 * time.Second

// Config selects the log level, output format and optional Sentry sink.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text

	SentryDSN         string
	SentryEnvironment string
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns the console handler for cfg writing to w.
func NewHandler(w io.Writer, cfg Config) slog.Handler {
	level := ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "text") {
		return log.NewWithOptions(w, log.Options{
			Level:           log.Level(level),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup installs the default logger. When a Sentry DSN is set, warnings
// are also recorded as Sentry logs and errors become Sentry events. The
// returned function flushes buffered Sentry events.
func Setup(w io.Writer, cfg Config) func() {
	handler := NewHandler(w, cfg)

	if cfg.SentryDSN == "" {
		slog.SetDefault(slog.New(handler))
		return func() {}
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		EnableLogs:  true,
	}); err != nil {
		slog.SetDefault(slog.New(handler))
		slog.Error("failed to initialize Sentry", "error", err)
		return func() {}
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	slog.SetDefault(slog.New(newMultiHandler(handler, sentryHandler)))
	return func() { sentry.Flush(sentryFlushTimeout) }
}
