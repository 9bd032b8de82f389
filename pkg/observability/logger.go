package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LogLevel is the minimum severity a Logger will emit.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var slogLevels = map[LogLevel]slog.Level{
	DebugLevel: slog.LevelDebug,
	InfoLevel:  slog.LevelInfo,
	WarnLevel:  slog.LevelWarn,
	ErrorLevel: slog.LevelError,
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

// Logger wraps slog with a small chainable API. Every entry is a
// single JSON line, which keeps log shipping trivial.
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger builds a JSON logger writing to output. A nil output
// falls back to stdout.
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	slogLevel, ok := slogLevels[level]
	if !ok {
		slogLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: slogLevel})
	return &Logger{logger: slog.New(handler), level: level}
}

func (l *Logger) derive(s *slog.Logger) *Logger {
	return &Logger{logger: s, level: l.level}
}

// WithField returns a logger that attaches key=value to every entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.logger.With(key, value))
}

// WithFields returns a logger that attaches every given field.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.derive(l.logger.With(args...))
}

// WithError attaches err under the "error" key. A nil err returns the
// receiver unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(message string) { l.logger.Debug(message) }
func (l *Logger) Info(message string)  { l.logger.Info(message) }
func (l *Logger) Warn(message string)  { l.logger.Warn(message) }
func (l *Logger) Error(message string) { l.logger.Error(message) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

type contextKey string

const (
	// RequestIDKey carries the per-request correlation ID.
	RequestIDKey contextKey = "request_id"
	// PrincipalIDKey carries the authenticated principal acting on
	// the request.
	PrincipalIDKey contextKey = "principal_id"
	// LoggerKey carries a request-scoped logger.
	LoggerKey contextKey = "logger"
)

// WithRequestID stores the request correlation ID in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the correlation ID, or "" when unset.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithPrincipalID stores the acting principal in ctx.
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalIDKey, principalID)
}

// GetPrincipalID returns the acting principal, or "" when unset.
func GetPrincipalID(ctx context.Context) string {
	id, _ := ctx.Value(PrincipalIDKey).(string)
	return id
}

// WithLogger stores a request-scoped logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger returns the logger stored in ctx, or a default
// info-level logger when none is present.
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext returns the context logger enriched with the request ID
// and principal ID when those are present.
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)
	if id := GetRequestID(ctx); id != "" {
		logger = logger.WithField("request_id", id)
	}
	if id := GetPrincipalID(ctx); id != "" {
		logger = logger.WithField("principal_id", id)
	}
	return logger
}
