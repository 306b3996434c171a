// Package logging builds the process logger: JSON records on stdout and,
// when a DSN is configured, warnings and errors forwarded to Sentry.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// Config controls logger construction.
type Config struct {
	Level             string
	SentryDSN         string
	SentryEnvironment string

	// Output defaults to os.Stdout.
	Output io.Writer
}

// ParseLevel maps debug/info/warn/error to a slog level. Anything else is
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New returns the logger and a flush function to call before exit.
// A Sentry init failure is logged and the logger falls back to stdout only.
func New(cfg Config) (*slog.Logger, func()) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	stdoutHandler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	noop := func() {}

	if cfg.SentryDSN == "" {
		return slog.New(stdoutHandler), noop
	}

	env := cfg.SentryEnvironment
	if env == "" {
		env = "production"
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: env,
		EnableLogs:  true,
	}); err != nil {
		logger := slog.New(stdoutHandler)
		logger.Error("failed to initialize Sentry", "error", err)
		return logger, noop
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	flush := func() { sentry.Flush(2 * time.Second) }
	return slog.New(newMultiHandler(stdoutHandler, sentryHandler)), flush
}
