package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity levels
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger is a structured logger backed by zerolog
type Logger struct {
	root      zerolog.Logger // level, timestamp and caller only
	zl        zerolog.Logger
	component string
	traceID   string
	fields    map[string]interface{}
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" toml:"level"`
	Output      string `json:"output" toml:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component" toml:"component"`
	IncludeFile bool   `json:"include_file" toml:"include_file"`
	JSONFormat  bool   `json:"json_format" toml:"json_format"`

	// Rotation, only used when Output is a file path
	MaxSizeMB  int  `json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int  `json:"max_backups" toml:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" toml:"max_age_days"`
	Compress   bool `json:"compress" toml:"compress"`
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
	once          sync.Once
)

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	return newWithWriter(openOutput(cfg), cfg)
}

func openOutput(cfg *Config) io.Writer {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

func newWithWriter(w io.Writer, cfg *Config) *Logger {
	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05", NoColor: true}
	}

	zctx := zerolog.New(w).Level(ParseLevel(cfg.Level).zerolog()).With().Timestamp()
	if cfg.IncludeFile {
		zctx = zctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}

	root := zctx.Logger()
	l := &Logger{
		root:   root,
		zl:     root,
		fields: make(map[string]interface{}),
	}
	if cfg.Component != "" {
		l = l.WithComponent(cfg.Component)
	}
	return l
}

// Default returns the default logger instance
func Default() *Logger {
	once.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = New(&Config{
				Level:      "INFO",
				Output:     "stdout",
				Component:  "app",
				JSONFormat: true,
			})
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	once.Do(func() {})
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{root: zerolog.Nop(), zl: zerolog.Nop(), fields: make(map[string]interface{})}
}

// WithComponent returns a new logger with the specified component
func (l *Logger) WithComponent(component string) *Logger {
	nl := l.clone()
	nl.component = component
	nl.rebuild()
	return nl
}

// WithTraceID returns a new logger with the specified trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	nl := l.clone()
	nl.traceID = traceID
	nl.rebuild()
	return nl
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	nl := l.clone()
	nl.fields[key] = value
	nl.rebuild()
	return nl
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	nl := l.clone()
	for k, v := range fields {
		nl.fields[k] = v
	}
	nl.rebuild()
	return nl
}

// WithError returns a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// WithDuration returns a new logger with duration field
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.WithField("duration", d.String())
}

// Component returns the component name attached to the logger
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		root:      l.root,
		zl:        l.zl,
		component: l.component,
		traceID:   l.traceID,
		fields:    fields,
	}
}

// rebuild derives zl from root so a re-set key replaces the old value
// instead of being written twice
func (l *Logger) rebuild() {
	zc := l.root.With()
	if l.component != "" {
		zc = zc.Str("component", l.component)
	}
	if l.traceID != "" {
		zc = zc.Str("trace_id", l.traceID)
	}
	if len(l.fields) > 0 {
		zc = zc.Fields(l.fields)
	}
	l.zl = zc.Logger()
}

// log writes a log entry. args are either key/value pairs or printf arguments.
func (l *Logger) log(level Level, msg string, args ...interface{}) {
	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}

	if len(args) >= 2 && len(args)%2 == 0 {
		if _, ok := args[0].(string); ok {
			for i := 0; i < len(args); i += 2 {
				key, ok := args[i].(string)
				if !ok {
					key = fmt.Sprint(args[i])
				}
				switch v := args[i+1].(type) {
				case error:
					ev = ev.AnErr(key, v)
				case time.Duration:
					ev = ev.Str(key, v.String())
				default:
					ev = ev.Interface(key, v)
				}
			}
			ev.Msg(msg)
			return
		}
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	ev.Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(FATAL, msg, args...)
	os.Exit(1)
}

// Package-level functions for default logger

// Debug logs a debug message using the default logger
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}

// Info logs an info message using the default logger
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs an error message using the default logger
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// Fatal logs a fatal message using the default logger
func Fatal(msg string, args ...interface{}) {
	Default().Fatal(msg, args...)
}

// WithComponent returns a new logger with the specified component
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}

// WithFields returns a new logger with additional fields
func WithFields(fields map[string]interface{}) *Logger {
	return Default().WithFields(fields)
}

// WithError returns a new logger with an error field
func WithError(err error) *Logger {
	return Default().WithError(err)
}
