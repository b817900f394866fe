// Package logger provides the structured logger used across envsense.
// It is a thin layer over log/slog with typed field constructors and
// optional size-based file rotation.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging interface components depend on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Module(name string) Logger
}

// LogLevel names a minimum severity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug, nil
	case LogLevelInfo, "":
		return LogLevelInfo, nil
	case LogLevelWarn, "warning":
		return LogLevelWarn, nil
	case LogLevelError:
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogLogger implements Logger on top of a slog.Handler.
type SlogLogger struct {
	l *slog.Logger
}

var _ Logger = (*SlogLogger)(nil)

// NewSlogLogger writes text records at or above level to w. Timestamps are
// rendered in loc; a nil loc keeps the local zone.
func NewSlogLogger(w io.Writer, level LogLevel, loc *time.Location) *SlogLogger {
	return &SlogLogger{l: slog.New(slog.NewTextHandler(w, handlerOptions(level, loc)))}
}

// NewJSONLogger is NewSlogLogger with JSON output.
func NewJSONLogger(w io.Writer, level LogLevel, loc *time.Location) *SlogLogger {
	return &SlogLogger{l: slog.New(slog.NewJSONHandler(w, handlerOptions(level, loc)))}
}

func handlerOptions(level LogLevel, loc *time.Location) *slog.HandlerOptions {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}
	if loc != nil {
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.Time(a.Key, a.Value.Time().In(loc))
			}
			return a
		}
	}
	return opts
}

func (s *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	if !s.l.Enabled(context.Background(), level) {
		return
	}
	s.l.LogAttrs(context.Background(), level, msg, toAttrs(fields)...)
}

func (s *SlogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

// With returns a logger that adds fields to every record.
func (s *SlogLogger) With(fields ...Field) Logger {
	attrs := toAttrs(fields)
	args := make([]any, len(attrs))
	for i := range attrs {
		args[i] = attrs[i]
	}
	return &SlogLogger{l: s.l.With(args...)}
}

// Module tags records with the component name.
func (s *SlogLogger) Module(name string) Logger {
	return &SlogLogger{l: s.l.With(slog.String("module", name))}
}

// Config describes log output as loaded from settings.
type Config struct {
	Level    string
	Format   string // "text" or "json"
	Timezone string
	File     FileConfig
}

// FileConfig enables rotated file output in addition to stderr.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a logger from cfg. The returned closer flushes the rotated
// file, if any, and is always non-nil.
func New(cfg Config) (*SlogLogger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nopCloser{}, err
	}

	var loc *time.Location
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("invalid log timezone %q: %w", cfg.Timezone, err)
		}
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File.Enabled && cfg.File.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}

	if strings.EqualFold(cfg.Format, "json") {
		return NewJSONLogger(w, level, loc), closer, nil
	}
	return NewSlogLogger(w, level, loc), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
