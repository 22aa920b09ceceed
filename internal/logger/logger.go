package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is what the classifier, the HTTP server and the CLI log through.
// Loggers travel in the context; see WithContext and FromContext.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New wraps an arbitrary slog handler.
func New(h slog.Handler) Logger {
	return slogLogger{l: slog.New(h)}
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s slogLogger) With(args ...any) Logger {
	return slogLogger{l: s.l.With(args...)}
}

func (s slogLogger) WithGroup(name string) Logger {
	return slogLogger{l: s.l.WithGroup(name)}
}

// JSON logs one object per record with the source position attached.
// `serve` uses it when log_format is json.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
}

// Pretty is the colored terminal format.
func Pretty(w io.Writer, level slog.Level) Logger {
	return New(NewPrettyHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
}

// Discard drops every record.
func Discard() Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ForFormat picks a handler by name: "json", "pretty" or "text".
// Unknown names fall back to text.
func ForFormat(format string, level slog.Level, w io.Writer) Logger {
	switch format {
	case "json":
		return JSON(w, level)
	case "pretty":
		return Pretty(w, level)
	default:
		return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
}

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or an info-level text
// logger on stderr when there is none.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return ForFormat("text", slog.LevelInfo, os.Stderr)
}

// ParseLevel maps a log_level value to a slog level. "warning" is accepted
// as an alias; anything unrecognised is info.
func ParseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if s == "" || lvl.UnmarshalText([]byte(s)) != nil {
		return slog.LevelInfo
	}
	return lvl
}
