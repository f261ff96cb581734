package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ParseLevel parses a level string, defaulting to info
func ParseLevel(s string) hclog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "info", "":
		return hclog.Info
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}

// Logger is the application logger
type Logger struct {
	hclog.Logger
	file *os.File
}

// Config contains logger configuration
type Config struct {
	Level   string
	File    string
	Console bool
	JSON    bool
}

// New creates a new logger
func New(name string, cfg Config) (*Logger, error) {
	l := &Logger{}

	var writers []io.Writer

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}

	if cfg.Console || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	l.Logger = hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      ParseLevel(cfg.Level),
		Output:     io.MultiWriter(writers...),
		JSONFormat: cfg.JSON,
	})

	return l, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var defaultLogger hclog.Logger = hclog.NewNullLogger()

// Init initializes the default logger
func Init(name string, cfg Config) (*Logger, error) {
	l, err := New(name, cfg)
	if err != nil {
		return nil, err
	}
	defaultLogger = l.Logger
	return l, nil
}

// Default returns the default logger
func Default() hclog.Logger {
	return defaultLogger
}

// Named returns a sub-logger of the default logger
func Named(name string) hclog.Logger {
	return defaultLogger.Named(name)
}

// Debug logs a debug message to the default logger
func Debug(msg string, args ...interface{}) {
	defaultLogger.Debug(msg, args...)
}

// Info logs an info message to the default logger
func Info(msg string, args ...interface{}) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message to the default logger
func Warn(msg string, args ...interface{}) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message to the default logger
func Error(msg string, args ...interface{}) {
	defaultLogger.Error(msg, args...)
}
