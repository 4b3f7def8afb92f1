// Package logger provides the structured logging interface used across the
// server, with zerolog-backed implementations for JSON, console and
// daily-rotated file output.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// Err returns the conventional "error" field for err.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is the logging surface handed to every component. Sessions derive
// their own Logger with With so that each entry carries the session ID.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry. The receiver is
	// left unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases the log file, if any. Derived loggers never close the
	// file of their parent.
	Close() error
}

type zerologLogger struct {
	zl   zerolog.Logger
	file *DailyFileWriter // nil for derived loggers
}

func newZerolog(w io.Writer, serviceName string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// NewZerologLogger builds a JSON Logger writing to w, adding the service
// name and a timestamp to every entry.
//
// Parameters:
//   - w: Destination of the log entries (e.g. os.Stdout)
//   - serviceName: Added as the "service" field of every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger that writes JSON lines to w
func NewZerologLogger(w io.Writer, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{zl: newZerolog(w, serviceName, level)}
}

// NewConsoleLogger builds a human-readable Logger on stderr for running the
// server in a terminal.
func NewConsoleLogger(serviceName string, level zerolog.Level) Logger {
	return NewZerologLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, serviceName, level)
}

// NewZerologFileLogger writes JSON to stdout and to {serviceName}_{date}.log
// files in logDir, switching files at midnight.
//
// Parameters:
//   - serviceName: Used in log entries and file names
//   - logDir: Directory for log files; created if it does not exist
//   - level: Minimum level to log
//
// Returns:
//   - A Logger that writes to stdout and rotating files
//   - An error if logDir cannot be created or the first file cannot be opened
func NewZerologFileLogger(serviceName string, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &zerologLogger{
		zl:   newZerolog(io.MultiWriter(os.Stdout, file), serviceName, level),
		file: file,
	}, nil
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zerologLogger{zl: zerolog.Nop()}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") into a
// zerolog level. An empty name means info.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}

	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

func (z *zerologLogger) Debug(msg string, fields ...Field) { emit(z.zl.Debug(), msg, fields) }
func (z *zerologLogger) Info(msg string, fields ...Field)  { emit(z.zl.Info(), msg, fields) }
func (z *zerologLogger) Warn(msg string, fields ...Field)  { emit(z.zl.Warn(), msg, fields) }
func (z *zerologLogger) Error(msg string, fields ...Field) { emit(z.zl.Error(), msg, fields) }

func (z *zerologLogger) With(fields ...Field) Logger {
	ctx := z.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zerologLogger{zl: ctx.Logger()}
}

func (z *zerologLogger) Close() error {
	if z.file == nil {
		return nil
	}
	return z.file.Close()
}

// emit writes one entry. e is nil when the level is disabled.
func emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}
