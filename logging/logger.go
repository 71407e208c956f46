package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name onto a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface used across the module.
// Arguments after msg are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// LoggerConfig configures construction of a slog backed Logger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a slog backed Logger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) Logger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return NewSlogAdapter(slog.New(handler))
}

// NewSlogLogger creates a new Logger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) Logger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RunLogger decorates a Logger with attributes that are attached to every
// entry. With* methods return copies, so a RunLogger is cheap to derive per run.
type RunLogger struct {
	base  Logger
	attrs []any
}

// NewRunLogger wraps l; a nil logger is replaced by NoOpLogger.
func NewRunLogger(l Logger) *RunLogger {
	if l == nil {
		l = NoOpLogger{}
	}
	return &RunLogger{base: l}
}

// With returns a copy carrying the additional key/value attributes.
func (l *RunLogger) With(args ...any) *RunLogger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)
	return &RunLogger{base: l.base, attrs: attrs}
}

// WithRun attaches run and agent identifiers.
func (l *RunLogger) WithRun(runID, agent string) *RunLogger {
	return l.With("run_id", runID, "agent", agent)
}

func (l *RunLogger) merge(args []any) []any {
	if len(l.attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

// Debug logs at debug level.
func (l *RunLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.merge(args)...) }

// Info logs at info level.
func (l *RunLogger) Info(msg string, args ...any) { l.base.Info(msg, l.merge(args)...) }

// Warn logs at warn level.
func (l *RunLogger) Warn(msg string, args ...any) { l.base.Warn(msg, l.merge(args)...) }

// Error logs at error level.
func (l *RunLogger) Error(msg string, args ...any) { l.base.Error(msg, l.merge(args)...) }

// LogStep records the outcome of a single loop iteration.
func (l *RunLogger) LogStep(step, maxSteps int, dur time.Duration, err error) {
	l.logOutcome("agent.step", err, "step", step, "max_steps", maxSteps, "duration", dur)
}

// LogLLMCall records model call latency and success.
func (l *RunLogger) LogLLMCall(model string, dur time.Duration, err error) {
	l.logOutcome("model.call", err, "model", model, "duration", dur)
}

// LogToolCall records execution details for a tool invocation. Tool
// failures are fed back to the model, so they log at warn level.
func (l *RunLogger) LogToolCall(tool string, dur time.Duration, err error) {
	if err != nil {
		l.Warn("tool.call.failed", "tool", tool, "duration", dur, "error", err.Error())
		return
	}
	l.Debug("tool.call.completed", "tool", tool, "duration", dur)
}

func (l *RunLogger) logOutcome(op string, err error, args ...any) {
	if err != nil {
		l.Error(op+".failed", append(args, "error", err.Error())...)
		return
	}
	l.Info(op+".completed", args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
