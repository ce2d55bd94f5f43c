// Package logging builds the application logger from the Logging configuration
// section: a colored console handler and a size-rotated ndjson file.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/pitabwire/util"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/localgpt/localgpt/config"
)

const (
	// LevelTrace sits below debug, for the Verbose and Trace names.
	LevelTrace = slog.LevelDebug - 4
	// LevelFatal sits above error, for the Fatal and Critical names.
	LevelFatal = slog.LevelError + 4

	rollingDateLayout = "20060102"
)

type Options struct {
	Console    io.Writer
	NoColor    bool
	TimeFormat string
	AddSource  bool
	BaseDir    string
	NoFile     bool
	Now        func() time.Time
}

type Option func(*Options)

// WithConsole redirects console output, stderr by default.
func WithConsole(w io.Writer) Option {
	return func(o *Options) {
		o.Console = w
	}
}

func WithNoColor(noColor bool) Option {
	return func(o *Options) {
		o.NoColor = noColor
	}
}

func WithTimeFormat(format string) Option {
	return func(o *Options) {
		if format != "" {
			o.TimeFormat = format
		}
	}
}

// WithBaseDir anchors a relative LogFilePath.
func WithBaseDir(dir string) Option {
	return func(o *Options) {
		o.BaseDir = dir
	}
}

// WithoutFile disables the ndjson file sink.
func WithoutFile() Option {
	return func(o *Options) {
		o.NoFile = true
	}
}

func WithSource(addSource bool) Option {
	return func(o *Options) {
		o.AddSource = addSource
	}
}

func withClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// Logger owns the log entry handed to the rest of the application and the file it writes to.
type Logger struct {
	entry *util.LogEntry
	level slog.Level
	file  *lumberjack.Logger
	path  string
}

// New creates the application logger. Failure to open the log file is not
// fatal: the console keeps working and the error is reported through it.
func New(ctx context.Context, settings config.LoggingSettings, opts ...Option) *Logger {
	o := &Options{
		Console:    os.Stderr,
		TimeFormat: time.TimeOnly,
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	level, known := ParseLevel(settings.MinimumLevel)

	handlers := []slog.Handler{
		tint.NewHandler(o.Console, &tint.Options{
			AddSource:  o.AddSource,
			Level:      level,
			TimeFormat: o.TimeFormat,
			NoColor:    o.NoColor,
		}),
	}

	l := &Logger{level: level}

	var fileErr error
	if !o.NoFile && settings.LogFilePath != "" {
		l.path = resolveFilePath(settings.LogFilePath, o.BaseDir, o.Now())
		fileErr = os.MkdirAll(filepath.Dir(l.path), 0o755)
		if fileErr == nil {
			l.file = &lumberjack.Logger{
				Filename:   l.path,
				MaxSize:    settings.MaxSizeMB(),
				MaxBackups: settings.RetainedFileCountLimit,
				LocalTime:  true,
			}
			handlers = append(handlers, slog.NewJSONHandler(l.file, &slog.HandlerOptions{
				AddSource:   o.AddSource,
				Level:       level,
				ReplaceAttr: replaceLevelNames,
			}))
		}
	}

	l.entry = util.NewLogger(ctx,
		util.WithLogHandler(slog.NewMultiHandler(handlers...)),
		util.WithLogLevel(level),
	)

	if !known {
		l.entry.WithField("level", settings.MinimumLevel).Warn("unknown minimum log level, using Information")
	}
	if fileErr != nil {
		l.entry.WithError(fileErr).WithField("path", l.path).Error("could not create log directory")
	}

	return l
}

// Entry is the root log entry.
func (l *Logger) Entry() *util.LogEntry {
	return l.entry
}

// Level is the effective minimum level.
func (l *Logger) Level() slog.Level {
	return l.level
}

// FilePath is the active ndjson file, empty when the file sink is disabled.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the file sink.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// ParseLevel maps the level names used in appsettings files to slog levels.
// Unknown names map to info and report false.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "verbose", "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "information", "info", "":
		return slog.LevelInfo, true
	case "warning", "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "fatal", "critical":
		return LevelFatal, true
	default:
		return slog.LevelInfo, false
	}
}

// resolveFilePath anchors relative paths and expands a trailing "-" in the
// file stem with the current date, so log-.ndjson becomes log-20250102.ndjson.
func resolveFilePath(path, baseDir string, now time.Time) string {
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	dir, name := filepath.Split(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if strings.HasSuffix(stem, "-") {
		name = stem + now.Format(rollingDateLayout) + ext
	}
	return filepath.Join(dir, name)
}

func replaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case level < slog.LevelDebug:
		a.Value = slog.StringValue("TRACE")
	case level > slog.LevelError:
		a.Value = slog.StringValue("FATAL")
	}
	return a
}
