package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ParseLogLevel maps a config value to a LogLevel, defaulting to INFO
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a levelled printf-style logger backed by zerolog
type Logger struct {
	z      zerolog.Logger
	level  LogLevel
	fields map[string]interface{}
}

// NewLogger creates a console logger on stdout with the specified level
func NewLogger(level LogLevel) *Logger {
	return NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}, level)
}

// NewLoggerTo creates a logger writing to w
func NewLoggerTo(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		z:      zerolog.New(w).With().Timestamp().Logger().Level(level.zerolog()),
		level:  level,
		fields: make(map[string]interface{}),
	}
}

// Configure replaces the global logger according to level and format ("console" or "json")
func Configure(level, format string) {
	lvl := ParseLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.EqualFold(format, "json") {
		Log = NewLoggerTo(os.Stdout, lvl)
		return
	}
	Log = NewLogger(lvl)
}

func (l *Logger) event(level LogLevel) *zerolog.Event {
	var e *zerolog.Event
	switch level {
	case DEBUG:
		e = l.z.Debug()
	case WARN:
		e = l.z.Warn()
	case ERROR:
		e = l.z.Error()
	default:
		e = l.z.Info()
	}
	if len(l.fields) > 0 {
		e = e.Fields(l.fields)
	}
	return e
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.event(DEBUG).Msg(fmt.Sprintf(format, v...))
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.event(INFO).Msg(fmt.Sprintf(format, v...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.event(WARN).Msg(fmt.Sprintf(format, v...))
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.event(ERROR).Msg(fmt.Sprintf(format, v...))
}

// WithFields returns a new logger with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newLogger := &Logger{
		z:      l.z,
		level:  l.level,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
	}

	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}

	return newLogger
}

// WithField returns a new logger with a single field added
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// Global logger instance
var Log = NewLogger(INFO)
