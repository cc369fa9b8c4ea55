// Package logger owns the process-wide slog loggers: the application logger
// returned by L and Named, and the audit logger returned by Audit.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Redacted replaces the value of any attribute whose key looks sensitive.
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{"authorization", "api_key", "apikey", "secret", "password", "token"}

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Service is attached to every record as "service"; defaults to wallethub.
	Service string
	Audit   AuditConfig
}

// AuditConfig controls audit log output behaviour.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type state struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.RWMutex
	current *state
)

// Init builds the loggers from cfg and swaps them in. Outputs opened by a
// previous Init are closed.
func Init(cfg Config) error {
	next, err := build(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	prev := current
	current = next
	mu.Unlock()

	if prev != nil {
		return closeAll(prev.closers)
	}
	return nil
}

func build(cfg Config) (*state, error) {
	st := &state{}
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redact,
	}

	writer, err := st.outputs(cfg.OutputPaths)
	if err != nil {
		_ = closeAll(st.closers)
		return nil, err
	}
	service := cfg.Service
	if service == "" {
		service = "wallethub"
	}
	st.app = slog.New(newHandler(cfg.Format, writer, opts)).With(slog.String("service", service))
	st.audit = st.app

	if cfg.Audit.Enabled {
		rotator, err := auditWriter(cfg.Audit)
		if err != nil {
			_ = closeAll(st.closers)
			return nil, err
		}
		st.closers = append(st.closers, rotator)
		auditHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: redact})
		st.audit = slog.New(auditHandler).With(slog.String("service", service), slog.String("stream", "audit"))
	}
	return st, nil
}

func (st *state) outputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(strings.TrimSpace(path)) {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			rotator := &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 7, MaxAge: 30}
			st.closers = append(st.closers, rotator)
			writers = append(writers, rotator)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(format) {
	case "text", "console":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func auditWriter(cfg AuditConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 7),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
	}, nil
}

// redact masks credentials that end up in log attributes, e.g. a request
// header map or a misconfigured DSN.
func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func parseLevel(level string) slog.Level {
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

func load() *state {
	mu.RLock()
	st := current
	mu.RUnlock()
	if st != nil {
		return st
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		// stdout 不会失败。
		current, _ = build(Config{})
	}
	return current
}

// L returns the application logger, initialising a JSON stdout logger on
// first use.
func L() *slog.Logger {
	return load().app
}

// Audit returns the audit logger, or the application logger when auditing
// is disabled.
func Audit() *slog.Logger {
	return load().audit
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes file outputs. Later records to closed outputs are dropped.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	err := closeAll(current.closers)
	current.closers = nil
	return err
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
