// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package log provides the structured logger used across the consensus
// core: log.Info(msg, "key", val, ...). It is a thin wrapper over the
// standard library log/slog with a colored terminal handler and rotating
// file output.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

var root = New(os.Stderr, true)

// Logger wraps an slog.Logger with the key/value call convention the rest of
// the codebase uses.
type Logger struct {
	s *slog.Logger
}

// New builds a Logger writing to w. If colorize is true and w looks like a
// terminal, level names are colorized.
func New(w io.Writer, colorize bool) *Logger {
	h := &termHandler{
		w:        w,
		colorize: colorize && isTerminal(w),
		level:    slog.LevelInfo,
	}
	return &Logger{s: slog.New(h)}
}

// NewFileLogger rotates log output through lumberjack.
func NewFileLogger(path string, maxSizeMB, maxBackups, maxAgeDays int) *Logger {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return New(lj, false)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetDefault replaces the package-level root logger.
func SetDefault(l *Logger) { root = l }

func (l *Logger) SetLevel(lvl slog.Level) {
	if h, ok := l.s.Handler().(*termHandler); ok {
		h.level = lvl
	}
}

func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.s.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.s.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.s.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.s.Error(msg, kv...) }

// Crit logs at error level and terminates the process. Reserved for invariant
// violations the applier surfaces ("poison the applier, halt
// further commits").
func (l *Logger) Crit(msg string, kv ...any) {
	l.s.Error(msg, kv...)
	os.Exit(1)
}

func Debug(msg string, kv ...any) { root.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { root.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { root.Warn(msg, kv...) }
func Error(msg string, kv ...any) { root.Error(msg, kv...) }
func Crit(msg string, kv ...any)  { root.Crit(msg, kv...) }
func With(kv ...any) *Logger      { return root.With(kv...) }

// termHandler is a minimal slog.Handler emitting one colorized line per
// record, in the "time level msg key=val ..." layout.
type termHandler struct {
	w        io.Writer
	colorize bool
	level    slog.Level
	attrs    []slog.Attr
}

func (h *termHandler) Enabled(_ context.Context, lvl slog.Level) bool { return lvl >= h.level }

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format(time.RFC3339)
	lvl := levelString(r.Level, h.colorize)
	line := fmt.Sprintf("%s %s %s", ts, lvl, r.Message)
	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})
	_, err := fmt.Fprintln(colorableOf(h.w), line)
	return err
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &n
}

func (h *termHandler) WithGroup(_ string) slog.Handler { return h }

func colorableOf(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok {
		return colorable.NewColorable(f)
	}
	return w
}

func levelString(lvl slog.Level, colorize bool) string {
	var c *color.Color
	var s string
	switch {
	case lvl >= slog.LevelError:
		s, c = "ERROR", color.New(color.FgRed, color.Bold)
	case lvl >= slog.LevelWarn:
		s, c = "WARN ", color.New(color.FgYellow)
	case lvl >= slog.LevelInfo:
		s, c = "INFO ", color.New(color.FgGreen)
	default:
		s, c = "DEBUG", color.New(color.FgCyan)
	}
	if !colorize {
		return s
	}
	return c.Sprint(s)
}
