package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel is the severity of a log message.
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger. The zero value is not usable; construct with New
// or use the package-level functions which share a process-wide default.
type Logger struct {
	level atomic.Int32
	out   *log.Logger
}

// New creates a Logger writing to w at the given level string.
func New(w io.Writer, level string) *Logger {
	l := &Logger{
		out: log.New(w, "[LIVETV-HUB] ", log.LstdFlags),
	}
	l.level.Store(int32(ParseLogLevel(level)))
	return l
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stdout, "INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts a level string to a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the process-wide default logger's level.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the process-wide default logger's level as a string.
func GetLogLevel() string {
	return getDefaultLogger().Level().String()
}

// SetLevel changes this logger's level.
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLogLevel(level)))
}

// Level returns this logger's current level.
func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

// String returns the canonical name of the level.
func (lv LogLevel) String() string {
	switch lv {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *Logger) logf(level LogLevel, format string, v ...interface{}) {
	if level < l.Level() {
		return
	}
	l.out.Printf("[%s] %s", level.String(), fmt.Sprintf(format, v...))
}

// Debug logs a debug level message.
func (l *Logger) Debug(format string, v ...interface{}) { l.logf(DEBUG, format, v...) }

// Info logs an info level message.
func (l *Logger) Info(format string, v ...interface{}) { l.logf(INFO, format, v...) }

// Warn logs a warning level message.
func (l *Logger) Warn(format string, v ...interface{}) { l.logf(WARN, format, v...) }

// Error logs an error level message.
func (l *Logger) Error(format string, v ...interface{}) { l.logf(ERROR, format, v...) }

// Package-level convenience functions sharing the default logger.

func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }
func Info(format string, v ...interface{})  { getDefaultLogger().Info(format, v...) }
func Warn(format string, v ...interface{})  { getDefaultLogger().Warn(format, v...) }
func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
