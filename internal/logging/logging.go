// Package logging provides named loggers on top of gookit/slog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gookit/slog"
	"github.com/gookit/slog/handler"
)

// Config controls the process-wide logging setup.
type Config struct {
	// Level is the minimum level name: trace, debug, verbose, info, notice, warn, error, fatal, panic
	Level string `json:"level" yaml:"level" toml:"level"`

	// Caller adds the caller location to every message
	Caller bool `json:"caller" yaml:"caller" toml:"caller"`

	// Stderr sends log output to stderr, required when data is streamed to stdout
	Stderr bool `json:"stderr" yaml:"stderr" toml:"stderr"`
}

// VerboseLevel sits between info and debug.
const VerboseLevel slog.Level = 650

var (
	mu             sync.RWMutex
	defaultLevel   = slog.InfoLevel
	withCaller     bool
	consoleHandler slog.Handler
)

func init() {
	slog.LevelNames[VerboseLevel] = "VERBOSE"
	slog.AllLevels = slog.Levels{
		slog.PanicLevel,
		slog.FatalLevel,
		slog.ErrorLevel,
		slog.WarnLevel,
		slog.NoticeLevel,
		slog.InfoLevel,
		VerboseLevel,
		slog.DebugLevel,
		slog.TraceLevel,
	}
	consoleHandler = newConsoleHandler(false, false)
}

// Initialize applies cfg to all loggers created afterwards.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	defaultLevel = Name2Level(cfg.Level)
	withCaller = cfg.Caller
	consoleHandler = newConsoleHandler(cfg.Stderr, cfg.Caller)
}

func newConsoleHandler(toStderr, caller bool) slog.Handler {
	if toStderr {
		return newWriterHandler(os.Stderr, caller)
	}
	return newWriterHandler(os.Stdout, caller)
}

// newWriterHandler writes text records to out. Color is only kept on stdout.
func newWriterHandler(out io.Writer, caller bool) *syncHandler {
	h := handler.NewConsoleHandler(slog.AllLevels)
	if out != os.Stdout {
		h.Output = out
		h.TextFormatter().EnableColor = false
	}
	if caller {
		h.TextFormatter().SetTemplate("[{{datetime}}] [{{level}}] [{{caller}}] {{message}} {{data}}\n")
	} else {
		h.TextFormatter().SetTemplate("[{{datetime}}] [{{level}}] {{message}} {{data}}\n")
	}
	return &syncHandler{ConsoleHandler: h}
}

// syncHandler serializes writes of concurrent sessions to the console.
type syncHandler struct {
	*handler.ConsoleHandler
	mutex sync.Mutex
}

func (h *syncHandler) Handle(record *slog.Record) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.ConsoleHandler.Handle(record)
}

// Logger is a named logger. Messages are prefixed with the logger name.
type Logger struct {
	slogger *slog.Logger
	level   slog.Level
	name    string
}

// NewLogger creates a logger named after a component, e.g. "HttpApi".
func NewLogger(name string) *Logger {
	mu.RLock()
	level, caller, h := defaultLevel, withCaller, consoleHandler
	mu.RUnlock()

	slogger := slog.NewWithName(name, func(l *slog.Logger) {
		l.CallerSkip = l.CallerSkip + 2
		l.ReportCaller = caller
		l.AddHandler(h)
	})
	return &Logger{
		slogger: slogger,
		level:   level,
		name:    name,
	}
}

func (l *Logger) Tracef(format string, args ...any) {
	l.logf(slog.TraceLevel, format, args)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logf(slog.DebugLevel, format, args)
}

func (l *Logger) Verbosef(format string, args ...any) {
	l.logf(VerboseLevel, format, args)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logf(slog.InfoLevel, format, args)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logf(slog.WarnLevel, format, args)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logf(slog.ErrorLevel, format, args)
}

// Fatalf logs at fatal level and exits the process.
func (l *Logger) Fatalf(format string, args ...any) {
	l.logf(slog.FatalLevel, format, args)
	l.slogger.Flush()
	os.Exit(1)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.level >= level
}

func (l *Logger) logf(level slog.Level, format string, args []any) {
	if l.level >= level {
		format = strings.TrimSuffix(format, "\n")
		l.slogger.Logf(level, fmt.Sprintf("[%s] %s", l.name, format), args...)
	}
}

// Name2Level maps a level name to a slog level. Unknown names map to info.
func Name2Level(ln string) slog.Level {
	switch strings.ToLower(ln) {
	case "panic":
		return slog.PanicLevel
	case "fatal":
		return slog.FatalLevel
	case "err", "error":
		return slog.ErrorLevel
	case "warn", "warning":
		return slog.WarnLevel
	case "notice":
		return slog.NoticeLevel
	case "verbose":
		return VerboseLevel
	case "debug":
		return slog.DebugLevel
	case "trace":
		return slog.TraceLevel
	default:
		return slog.InfoLevel
	}
}
