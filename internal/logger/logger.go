// Package logger is a leveled printf-style logger with an optional rotating file sink.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Mode int

const (
	MINIMAL Mode = iota
	NORMAL
	FULL
)

var (
	levelNames = map[Level]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
		FATAL: "FATAL",
	}

	levelColors = map[Level]string{
		DEBUG: "\033[36m",
		INFO:  "\033[32m",
		WARN:  "\033[33m",
		ERROR: "\033[31m",
		FATAL: "\033[35m",
	}

	resetColor = "\033[0m"
)

type Logger struct {
	level      Level
	mode       Mode
	component  string
	mu         *sync.Mutex
	consoleOut io.Writer
	fileOut    io.WriteCloser
	useColors  bool
}

type Config struct {
	Level       Level
	Mode        Mode
	LogFilePath string
	UseColors   bool

	// Rotation of the file sink. Zero values use lumberjack defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Console overrides stdout, tests pass io.Discard.
	Console io.Writer
}

func New(cfg Config) (*Logger, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		level:      cfg.Level,
		mode:       cfg.Mode,
		mu:         &sync.Mutex{},
		consoleOut: console,
		useColors:  cfg.UseColors,
	}

	if cfg.LogFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to setup log file: %w", err)
		}
		l.fileOut = &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	return l, nil
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	l, _ := New(Config{Level: FATAL + 1, Console: io.Discard})
	return l
}

// With returns a logger sharing sinks that prefixes every message with a component name.
func (l *Logger) With(component string) *Logger {
	clone := *l
	if l.component != "" {
		component = l.component + "." + component
	}
	clone.component = component
	return &clone
}

func (l *Logger) Close() error {
	if l.fileOut != nil {
		return l.fileOut.Close()
	}
	return nil
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		message = "[" + l.component + "] " + message
	}

	var consoleMsg, fileMsg string

	switch l.mode {
	case MINIMAL:
		consoleMsg = l.decorate(level, message)
		fileMsg = fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], message)

	case FULL:
		file, line := l.getCaller()
		location := fmt.Sprintf("%s:%d", file, line)
		consoleMsg = l.decorate(level, fmt.Sprintf("%s | %s | %s", timestamp, location, message))
		fileMsg = fmt.Sprintf("%s [%s] %s | %s", timestamp, levelNames[level], location, message)

	default:
		consoleMsg = l.decorate(level, fmt.Sprintf("%s | %s", timestamp, message))
		fileMsg = fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], message)
	}

	if l.consoleOut != nil {
		fmt.Fprintln(l.consoleOut, consoleMsg)
	}

	if l.fileOut != nil {
		fmt.Fprintln(l.fileOut, fileMsg)
	}

	if level == FATAL {
		os.Exit(1)
	}
}

func (l *Logger) decorate(level Level, body string) string {
	levelStr := levelNames[level]
	if l.useColors {
		return fmt.Sprintf("%s[%s]%s %s", levelColors[level], levelStr, resetColor, body)
	}
	return fmt.Sprintf("[%s] %s", levelStr, body)
}

func (l *Logger) getCaller() (string, int) {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown", 0
	}
	return filepath.Base(file), line
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

var (
	levelsByName = map[string]Level{
		"debug":   DEBUG,
		"info":    INFO,
		"warn":    WARN,
		"warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
	}
	modesByName = map[string]Mode{
		"minimal": MINIMAL,
		"normal":  NORMAL,
		"full":    FULL,
	}
)

// ParseLevel is case-insensitive and falls back to INFO.
func ParseLevel(s string) Level {
	if level, ok := levelsByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level
	}
	return INFO
}

// ParseMode falls back to NORMAL.
func ParseMode(s string) Mode {
	if mode, ok := modesByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return mode
	}
	return NORMAL
}
