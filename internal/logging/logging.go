// Package logging builds the process logger: a level-switchable slog
// handler writing text or JSON to a console stream and, optionally, a
// rotating file.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats and console streams.
const (
	FormatJSON = "json"
	FormatText = "text"

	ConsoleStdout = "stdout"
	ConsoleStderr = "stderr"
)

// Rotation defaults applied when a file size, count or age is unset.
const (
	defaultMaxSizeMB  = 100
	defaultMaxFiles   = 3
	defaultMaxAgeDays = 30
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Config describes the desired logging configuration.
type Config struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	// Console is "stdout" (default) or "stderr". The one-shot CLI logs to
	// stderr so its stdout stays machine readable.
	Console        string `yaml:"console" json:"console,omitempty"`
	FilePath       string `yaml:"file_path" json:"file_path,omitempty"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `yaml:"file_max_files" json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" json:"file_max_age_days,omitempty"`
}

// DefaultConfig returns JSON logging at info level to stdout.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         FormatJSON,
		FileMaxSizeMB:  defaultMaxSizeMB,
		FileMaxFiles:   defaultMaxFiles,
		FileMaxAgeDays: defaultMaxAgeDays,
	}
}

// Validate reports every unrecognized field value.
func (c Config) Validate() error {
	var errs []error
	if _, ok := levels[c.Level]; !ok {
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Level))
	}
	if c.Format != FormatJSON && c.Format != FormatText {
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Format))
	}
	switch c.Console {
	case "", ConsoleStdout, ConsoleStderr:
	default:
		errs = append(errs, fmt.Errorf("invalid log console: %q", c.Console))
	}
	if c.FileMaxSizeMB < 0 || c.FileMaxFiles < 0 || c.FileMaxAgeDays < 0 {
		errs = append(errs, errors.New("log file rotation limits must not be negative"))
	}
	return errors.Join(errs...)
}

// LogValue renders the config as a group so it can be logged directly.
func (c Config) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("level", c.Level),
		slog.String("format", c.Format),
	}
	if c.Console == ConsoleStderr {
		attrs = append(attrs, slog.String("console", c.Console))
	}
	if c.FilePath != "" {
		out := c.output()
		attrs = append(attrs,
			slog.String("file", out.path),
			slog.Int("max_size_mb", out.maxSizeMB),
			slog.Int("max_files", out.maxFiles),
			slog.Int("max_age_days", out.maxAgeDays))
	}
	return slog.GroupValue(attrs...)
}

// level resolves c.Level, falling back to info for unknown names.
func (c Config) level() slog.Level {
	if l, ok := levels[c.Level]; ok {
		return l
	}
	return slog.LevelInfo
}

// output is the part of a Config that decides where records go. Two
// configs with equal outputs can share a handler.
type output struct {
	format     string
	console    string
	path       string
	maxSizeMB  int
	maxFiles   int
	maxAgeDays int
}

func (c Config) output() output {
	orDefault := func(v, def int) int {
		if v > 0 {
			return v
		}
		return def
	}
	return output{
		format:     c.Format,
		console:    c.Console,
		path:       c.FilePath,
		maxSizeMB:  orDefault(c.FileMaxSizeMB, defaultMaxSizeMB),
		maxFiles:   orDefault(c.FileMaxFiles, defaultMaxFiles),
		maxAgeDays: orDefault(c.FileMaxAgeDays, defaultMaxAgeDays),
	}
}

// open returns the destination writer and, when a file is configured, the
// rotating file that must be closed once the writer is retired.
func (o output) open() (io.Writer, *lumberjack.Logger) {
	var console io.Writer = os.Stdout
	if o.console == ConsoleStderr {
		console = os.Stderr
	}
	if o.path == "" {
		return console, nil
	}
	file := &lumberjack.Logger{
		Filename:   o.path,
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxFiles,
		MaxAge:     o.maxAgeDays,
	}
	return io.MultiWriter(console, file), file
}

// newHandler formats records for w and attaches context attrs.
func newHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	var h slog.Handler
	if format == FormatText {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return contextHandler{Handler: h}
}

// swapHandler forwards to a replaceable handler. Loggers derived with With
// or WithGroup keep the handler current at the time they were derived.
type swapHandler struct {
	cur atomic.Pointer[slog.Handler]
}

func newSwapHandler(h slog.Handler) *swapHandler {
	s := new(swapHandler)
	s.cur.Store(&h)
	return s
}

func (s *swapHandler) load() slog.Handler { return *s.cur.Load() }

func (s *swapHandler) store(h slog.Handler) { s.cur.Store(&h) }

func (s *swapHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return s.load().Enabled(ctx, l)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.load().Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return newSwapHandler(s.load().WithAttrs(attrs))
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	return newSwapHandler(s.load().WithGroup(name))
}

// Manager owns the process logger and applies config changes to it at
// runtime.
type Manager struct {
	mu    sync.Mutex
	cfg   Config
	level slog.LevelVar
	root  *swapHandler
	file  *lumberjack.Logger
}

// NewManager returns a Manager for cfg and the logger it controls.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	m := &Manager{cfg: cfg}
	m.level.Set(cfg.level())

	w, file := cfg.output().open()
	m.file = file
	m.root = newSwapHandler(newHandler(w, &m.level, cfg.Format))
	return m, slog.New(m.root)
}

// Reconfigure applies cfg. The level changes in place; a different format
// or destination builds a new handler and closes the previous log file.
// It reports whether the handler was rebuilt.
func (m *Manager) Reconfigure(cfg Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level.Set(cfg.level())
	prev := m.cfg
	m.cfg = cfg
	if cfg.output() == prev.output() {
		return false
	}

	if m.file != nil {
		_ = m.file.Close()
	}
	w, file := cfg.output().open()
	m.file = file
	m.root.store(newHandler(w, &m.level, cfg.Format))
	return true
}

// Config returns the configuration last applied.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Close closes the log file, if any. Calling it again is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
