// Package common provides shared constants, types, and utilities
// used across nm-openvpn.
package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
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

// ParseLevel converts a configuration value such as "debug" into a LogLevel.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// AppLogger is the application logger.
// It writes to stderr and, once file logging is enabled, to a size-rotated
// file in the log directory.
type AppLogger struct {
	mu          sync.Mutex
	level       LogLevel
	logger      *log.Logger
	output      io.Writer
	logFile     *os.File
	filePath    string
	maxFileSize int64
	maxBackups  int
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level      LogLevel
	EnableFile bool
	// Dir overrides the log directory; empty means GetLogDir().
	Dir         string
	MaxFileSize int64 // in bytes, default 5MB
	MaxBackups  int   // number of rotated files to keep, default 5
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

const (
	defaultMaxFileSize = 5 * 1024 * 1024
	defaultMaxBackups  = 5
)

// GetLogger returns the singleton logger instance.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = &AppLogger{
			level:       LevelInfo,
			output:      os.Stderr,
			logger:      log.New(os.Stderr, "", 0),
			maxFileSize: defaultMaxFileSize,
			maxBackups:  defaultMaxBackups,
		}
	})
	return defaultLogger
}

// InitLogger initializes the default logger.
// Should be called early in application startup.
func InitLogger(config LogConfig) error {
	logger := GetLogger()
	logger.SetLevel(config.Level)

	if config.MaxFileSize > 0 {
		logger.maxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		logger.maxBackups = config.MaxBackups
	}

	if !config.EnableFile {
		return nil
	}
	dir := config.Dir
	if dir == "" {
		dir = GetLogDir()
	}
	return logger.EnableFileLogging(dir)
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the log output destination.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.logger = log.New(w, "", 0)
}

// EnableFileLogging adds a log file in dir to the output.
// Symlinked directories or files are refused.
func (l *AppLogger) EnableFileLogging(dir string) error {
	if dir == "" {
		return fmt.Errorf("log directory is empty")
	}
	if isSymlink(dir) {
		return fmt.Errorf("security error: log directory is a symlink")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	logPath := filepath.Join(dir, LogFileName)
	if isSymlink(logPath) {
		return fmt.Errorf("security error: log file is a symlink")
	}

	l.rotateIfNeeded(logPath)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
	}
	l.logFile = file
	l.filePath = logPath
	l.output = io.MultiWriter(os.Stderr, file)
	l.logger = log.New(l.output, "", 0)
	return nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

func (l *AppLogger) rotateIfNeeded(logPath string) {
	info, err := os.Stat(logPath)
	if err != nil || info.Size() < l.maxFileSize {
		return
	}
	l.rotate(logPath)
}

// rotate compresses the current file next to it and prunes old backups.
func (l *AppLogger) rotate(logPath string) {
	l.mu.Lock()
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
	l.mu.Unlock()

	rotatedPath := fmt.Sprintf("%s.%s.gz", logPath, time.Now().Format("20060102-150405"))
	if err := compressFile(logPath, rotatedPath); err != nil {
		os.Rename(logPath, strings.TrimSuffix(rotatedPath, ".gz"))
	} else {
		os.Remove(logPath)
	}

	l.cleanupOldBackups(logPath)
}

func compressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	gzWriter := gzip.NewWriter(dstFile)
	if _, err := io.Copy(gzWriter, srcFile); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

func (l *AppLogger) cleanupOldBackups(logPath string) {
	matches, err := filepath.Glob(logPath + ".*")
	if err != nil || len(matches) <= l.maxBackups {
		return
	}

	// oldest first
	sort.Slice(matches, func(i, j int) bool {
		infoI, errI := os.Stat(matches[i])
		infoJ, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return false
		}
		return infoI.ModTime().Before(infoJ.ModTime())
	})

	for _, path := range matches[:len(matches)-l.maxBackups] {
		os.Remove(path)
	}
}

// GetLogDir returns the default log directory path.
func GetLogDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", ConfigDirName, "logs")
}

func (l *AppLogger) log(level LogLevel, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}

	l.logger.Printf("%s [%s] %s: %s",
		time.Now().Format("2006/01/02 15:04:05"), level.String(), caller, formatted)
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

// Shorthand functions for the default logger.

// LogDebug logs a debug message to the default logger.
func LogDebug(msg string, args ...interface{}) {
	GetLogger().log(LevelDebug, msg, args...)
}

// LogInfo logs an info message to the default logger.
func LogInfo(msg string, args ...interface{}) {
	GetLogger().log(LevelInfo, msg, args...)
}

// LogWarn logs a warning message to the default logger.
func LogWarn(msg string, args ...interface{}) {
	GetLogger().log(LevelWarn, msg, args...)
}

// LogError logs an error message to the default logger.
func LogError(msg string, args ...interface{}) {
	GetLogger().log(LevelError, msg, args...)
}

// Close closes the log file. Should be called on application shutdown.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	l.output = os.Stderr
	l.logger = log.New(os.Stderr, "", 0)
	return err
}

// CloseLogger closes the default logger.
func CloseLogger() error {
	return GetLogger().Close()
}
