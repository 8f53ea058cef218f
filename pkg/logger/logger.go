// Package logger provides structured logging for memopt on top of log/slog.
//
// Records carry the trace and span ids of the span in their context, and
// values of sensitive keys (retrieval queries, conversation text, secrets)
// are replaced with a placeholder unless the logger runs at debug level.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// Level is a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel parses a level name. Unknown values map to InfoLevel.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return WarnLevel
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return InfoLevel
}

func (l Level) slog() slog.Level {
	return slog.Level((int(l) - int(InfoLevel)) * 4)
}

func fromSlog(l slog.Level) Level {
	return Level(int(l)/4 + int(InfoLevel))
}

// Redacted replaces the value of a redacted key.
const Redacted = "[redacted]"

// DefaultRedactKeys are redacted when Config.Redact is nil.
var DefaultRedactKeys = []string{"query", "conversation_text", "password", "authorization"}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format string // json or text
	Output string // stdout, stderr or a file path

	// Service is added to every record as "service" when set.
	Service string

	// Redact lists attribute keys whose values are hidden above debug
	// level. Nil means DefaultRedactKeys; empty disables redaction.
	Redact []string

	// Writer overrides Output.
	Writer io.Writer
}

// Logger is the structured logger used across memopt. It satisfies the
// narrower logger interfaces of the engine and HTTP packages.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a child logger sharing this logger's level.
	With(args ...any) Logger

	SetLevel(level Level)
	GetLevel() Level

	// Close releases the output file, if any.
	Close() error
}

// SlogLogger implements Logger with log/slog.
type SlogLogger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New creates a Logger. A nil cfg logs JSON at info level to stdout.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel, Format: "json"}
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Level.slog())

	redact := cfg.Redact
	if redact == nil {
		redact = DefaultRedactKeys
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: replacer(level, redact),
	}

	w, closer := cfg.Writer, io.Closer(nil)
	if w == nil {
		w, closer = openOutput(cfg.Output)
	}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	l := slog.New(traceHandler{h})
	if cfg.Service != "" {
		l = l.With("service", cfg.Service)
	}
	return &SlogLogger{Logger: l, level: level, closer: closer}
}

// openOutput falls back to stdout when a log file cannot be opened.
func openOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout, nil
	}
	return f, f
}

func replacer(level *slog.LevelVar, redact []string) func([]string, slog.Attr) slog.Attr {
	keys := make(map[string]struct{}, len(redact))
	for _, k := range redact {
		keys[k] = struct{}{}
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.MessageKey {
			a.Key = "message"
			return a
		}
		if _, ok := keys[a.Key]; ok && level.Level() > slog.LevelDebug {
			return slog.String(a.Key, Redacted)
		}
		return a
	}
}

// traceHandler adds trace_id and span_id of the span in the record's context.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{Logger: l.Logger.With(args...), level: l.level}
}

func (l *SlogLogger) SetLevel(level Level) { l.level.Set(level.slog()) }

func (l *SlogLogger) GetLevel() Level { return fromSlog(l.level.Level()) }

// Slog returns the underlying slog logger.
func (l *SlogLogger) Slog() *slog.Logger { return l.Logger }

func (l *SlogLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

var global atomic.Pointer[Logger]

func init() {
	SetGlobal(New(&Config{Level: InfoLevel, Format: "text"}))
}

// Global returns the process-wide logger.
func Global() Logger {
	return *global.Load()
}

// SetGlobal replaces the process-wide logger. A nil logger is ignored.
func SetGlobal(l Logger) {
	if l != nil {
		global.Store(&l)
	}
}

func Debug(msg string, args ...any) { Global().Debug(msg, args...) }
func Info(msg string, args ...any)  { Global().Info(msg, args...) }
func Warn(msg string, args ...any)  { Global().Warn(msg, args...) }
func Error(msg string, args ...any) { Global().Error(msg, args...) }
