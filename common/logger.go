// Package common provides shared constants, types, and utilities
// used across the TravelNet connection orchestrator.
package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel converts a configuration value such as "debug" or "WARN"
// to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level      LogLevel
	EnableFile bool
	// Dir is where the log file lives when EnableFile is set.
	Dir         string
	MaxFileSize int64 // bytes before the file is rotated
	MaxBackups  int   // compressed rotations kept
}

// AppLogger writes leveled lines of the form
//
//	2006/01/02 15:04:05 [LEVEL] file.go:42: message
//
// to stderr and, optionally, to a size-rotated file.
type AppLogger struct {
	mu     sync.Mutex
	level  LogLevel
	out    io.Writer
	file   *rotatingFile
	now    func() time.Time
	limits LogConfig
}

var _ Logger = (*AppLogger)(nil)

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

// callerDepth is the frame distance from output to the code that logged:
// output <- entry point (Info, LogInfo, LogInfoCtx, ...) <- caller.
const callerDepth = 2

// NewAppLogger returns a logger writing to w at level.
func NewAppLogger(w io.Writer, level LogLevel) *AppLogger {
	return &AppLogger{
		level: level,
		out:   w,
		now:   time.Now,
		limits: LogConfig{
			MaxFileSize: DefaultLogMaxFileSize,
			MaxBackups:  DefaultLogMaxBackups,
		},
	}
}

// GetLogger returns the process-wide logger.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = NewAppLogger(os.Stderr, LevelInfo)
	})
	return defaultLogger
}

// InitLogger applies config to the process-wide logger. Call it once
// during startup, before the first operation.
func InitLogger(config LogConfig) error {
	logger := GetLogger()
	logger.SetLevel(config.Level)

	logger.mu.Lock()
	if config.MaxFileSize > 0 {
		logger.limits.MaxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		logger.limits.MaxBackups = config.MaxBackups
	}
	logger.mu.Unlock()

	if config.EnableFile {
		return logger.EnableFileLogging(config.Dir)
	}
	return nil
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput replaces the console destination. A file enabled with
// EnableFileLogging keeps receiving lines.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// EnableFileLogging mirrors every line into LogFileName under logDir.
// The file is rotated on write once it reaches the configured size.
func (l *AppLogger) EnableFileLogging(logDir string) error {
	if logDir == "" {
		logDir = DefaultLogDir
	}

	l.mu.Lock()
	limits := l.limits
	l.mu.Unlock()

	f, err := openRotatingFile(logDir, limits.MaxFileSize, limits.MaxBackups)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	return nil
}

// Close closes the log file, if any. Console output continues.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// CloseLogger closes the process-wide logger's file.
func CloseLogger() error {
	return GetLogger().Close()
}

func (l *AppLogger) output(depth int, level LogLevel, op, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(depth); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	if op != "" {
		msg = "[" + op + "] " + msg
	}
	line := fmt.Sprintf("%s [%s] %s: %s\n", l.now().Format("2006/01/02 15:04:05"), level, caller, msg)

	if l.out != nil {
		io.WriteString(l.out, line)
	}
	if l.file != nil {
		if _, err := l.file.Write([]byte(line)); err != nil && l.out != nil {
			fmt.Fprintf(l.out, "log file write failed: %v\n", err)
		}
	}
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) {
	l.output(callerDepth, LevelDebug, "", msg, args...)
}

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) {
	l.output(callerDepth, LevelInfo, "", msg, args...)
}

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) {
	l.output(callerDepth, LevelWarn, "", msg, args...)
}

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) {
	l.output(callerDepth, LevelError, "", msg, args...)
}

// Shorthand functions for the process-wide logger.

func LogDebug(msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelDebug, "", msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelInfo, "", msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelWarn, "", msg, args...)
}

func LogError(msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelError, "", msg, args...)
}

// The Ctx variants prefix the message with the operation ID carried by
// ctx, so every line of one operation can be grepped together.

func LogDebugCtx(ctx context.Context, msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelDebug, OperationID(ctx), msg, args...)
}

func LogInfoCtx(ctx context.Context, msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelInfo, OperationID(ctx), msg, args...)
}

func LogWarnCtx(ctx context.Context, msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelWarn, OperationID(ctx), msg, args...)
}

func LogErrorCtx(ctx context.Context, msg string, args ...interface{}) {
	GetLogger().output(callerDepth, LevelError, OperationID(ctx), msg, args...)
}
