// Package telemetry provides the gateway's structured logger: a rotating
// JSON log file via lumberjack, wrapped in log/slog, with per-component
// sub-loggers that stay live even when constructed before Init runs.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used as the "component" field on every record.
const (
	CompGateway    = "gateway"
	CompSupervisor = "supervisor"
	CompResponder  = "responder"
	CompQueue      = "queue"
	CompSlack      = "slack"
	CompDiscord    = "discord"
	CompStore      = "store"
)

// Config controls where and how logs are written.
type Config struct {
	// LogDir is the directory log files are rotated into. Empty discards
	// all output.
	LogDir string
	// Level is one of "debug", "info", "warn", "error" (default "info").
	Level string
	// Format is "json" (default) or "text".
	Format string
	// MaxSizeMB is the rotation threshold (default 10).
	MaxSizeMB int
	// MaxBackups is the number of rotated files retained (default 5).
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept (default 10).
	MaxAgeDays int
	// Compress rotated files with gzip (off unless set).
	Compress bool
}

var (
	mu          sync.RWMutex
	logger      *slog.Logger
	lumberjackW *lumberjack.Logger
)

// Init installs the global logger. Safe to call at most once, typically
// from cmd/telegate's serve command.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.LogDir == "" {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		return
	}

	lumberjackW = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "telegate.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(lumberjackW, opts)
	} else {
		handler = slog.NewJSONHandler(lumberjackW, opts)
	}
	logger = slog.New(handler)
}

// Logger returns the global logger. Safe to call before Init; returns a
// discarding logger until Init runs.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return logger
}

// ForComponent returns a sub-logger tagging every record with "component".
// It is safe to assign to a package-level var before Init runs: it
// re-resolves the live handler on every call via dynamicHandler.
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{component: name})
}

// dynamicHandler defers to the current global handler at log time, so
// component loggers created at package-init time (before telemetry.Init)
// don't permanently capture a discarding handler.
type dynamicHandler struct {
	component string
	attrs     []slog.Attr
	group     string
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	return handler.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	copy(merged[len(h.attrs):], attrs)
	return &dynamicHandler{component: h.component, attrs: merged, group: h.group}
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	return &dynamicHandler{component: h.component, attrs: h.attrs, group: name}
}

// Shutdown closes the rotating log file.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if lumberjackW != nil {
		lumberjackW.Close()
		lumberjackW = nil
	}
	logger = nil
}
