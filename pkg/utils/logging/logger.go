package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/clog"
)

type ctxLoggerKey struct{}

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(New(Config{Writer: os.Stderr}))
}

// Format selects the log handler
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config describes how a logger is built
type Config struct {
	// Level is one of "debug", "info", "warn", "warning", "error" (case-insensitive). Empty means info.
	Level string
	// Format is console (colored, human readable) or json. Empty means console.
	Format Format
	// Writer receives log records. nil means os.Stderr.
	Writer io.Writer
}

// ParseLevel converts a level name to slog.Level. Unknown names fall back to info.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New creates a slog.Logger from cfg
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	level, ok := ParseLevel(cfg.Level)

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithTimeFmt("15:04:05"),
			clog.WithSource(false),
			clog.WithAttrHook(clog.GoerrHook),
		)
	}

	logger := slog.New(handler)
	if !ok {
		logger.Warn("invalid log level, falling back to info", "level", cfg.Level)
	}
	return logger
}

// Default returns the process wide logger
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process wide logger
func SetDefault(logger *slog.Logger) {
	if logger != nil {
		defaultLogger.Store(logger)
	}
}

// With returns a new context carrying logger
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// From returns the logger of ctx, or the default logger
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}

// ErrAttr wraps err as an "error" attribute so that GoerrHook can expand its values
func ErrAttr(err error) slog.Attr {
	return slog.Any("error", err)
}
