package pionengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/logging"
)

// ParseLogLevel maps a configured engine log level name to pion's levels.
func ParseLogLevel(raw string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "warn", "warning":
		return logging.LogLevelWarn, nil
	case "none", "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("invalid engine log level %q", raw)
	}
}

// LoggerFactory routes pion's scoped loggers into slog. Scopes listed in Tags
// log at Level; every other scope only logs errors. An empty Tags enables all
// scopes at Level.
type LoggerFactory struct {
	Logger *slog.Logger
	Level  logging.LogLevel
	Tags   []string
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := f.Level
	if len(f.Tags) > 0 && !f.tagged(scope) && level > logging.LogLevelError {
		level = logging.LogLevelError
	}
	return &slogLogger{logger: logger.With("component", "pion", "scope", scope), level: level}
}

func (f *LoggerFactory) tagged(scope string) bool {
	for _, tag := range f.Tags {
		if strings.EqualFold(tag, scope) {
			return true
		}
	}
	return false
}

type slogLogger struct {
	logger *slog.Logger
	level  logging.LogLevel
}

// Pion's trace level has no slog equivalent; it is logged below debug.
const slogLevelTrace = slog.LevelDebug - 4

func (l *slogLogger) log(level logging.LogLevel, slevel slog.Level, msg string) {
	if l.level < level {
		return
	}
	l.logger.Log(context.Background(), slevel, msg)
}

func (l *slogLogger) Trace(msg string) { l.log(logging.LogLevelTrace, slogLevelTrace, msg) }
func (l *slogLogger) Tracef(format string, args ...interface{}) {
	l.log(logging.LogLevelTrace, slogLevelTrace, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Debug(msg string) { l.log(logging.LogLevelDebug, slog.LevelDebug, msg) }
func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.log(logging.LogLevelDebug, slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Info(msg string) { l.log(logging.LogLevelInfo, slog.LevelInfo, msg) }
func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.log(logging.LogLevelInfo, slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Warn(msg string) { l.log(logging.LogLevelWarn, slog.LevelWarn, msg) }
func (l *slogLogger) Warnf(format string, args ...interface{}) {
	l.log(logging.LogLevelWarn, slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Error(msg string) { l.log(logging.LogLevelError, slog.LevelError, msg) }
func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.log(logging.LogLevelError, slog.LevelError, fmt.Sprintf(format, args...))
}
