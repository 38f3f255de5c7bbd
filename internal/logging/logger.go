// Package logging provides structured logging for the RideLink client and API.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Logger provides structured JSON logging.
// A Logger is created once per process and passed to every component that logs.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger writing JSON lines to out at or above minLevel.
func New(out io.Writer, minLevel LogLevel) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(toLogrus(minLevel))
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	return &Logger{entry: logrus.NewEntry(base)}
}

// Discard returns a Logger that drops everything, for tests.
func Discard() *Logger {
	return New(io.Discard, LevelError)
}

// ParseLevel maps a config string onto a LogLevel, defaulting to INFO.
func ParseLevel(level string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(level))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func toLogrus(level LogLevel) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// With returns a child Logger that adds component to every entry.
func (l *Logger) With(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

// Writer returns a writer that logs each line at INFO, for bridging third-party loggers.
func (l *Logger) Writer() *io.PipeWriter {
	return l.entry.WriterLevel(logrus.InfoLevel)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.fields(context...).Debug(message)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.fields(context...).Info(message)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.fields(context...).Warn(message)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	entry := l.fields(context...)
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Error(message)
}

// fields merges multiple context maps into the entry.
func (l *Logger) fields(context ...map[string]interface{}) *logrus.Entry {
	entry := l.entry
	for _, c := range context {
		if len(c) > 0 {
			entry = entry.WithFields(logrus.Fields(c))
		}
	}
	return entry
}
