// Package logger provides the leveled, structured logging used throughout
// lcfs: a small package-level API (Tracef/Debugf/Infof/Warnf/Errorf) backed
// by log/slog, with a pluggable text-or-JSON handler and file rotation via
// lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels. lcfs adds a TRACE level below slog's built-in Debug and
// an OFF level above Error, matching the five-plus-off scale operators
// expect from a mount daemon's --log-severity flag.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(16)
)

const (
	SeverityTrace   = "TRACE"
	SeverityDebug   = "DEBUG"
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
	SeverityOff     = "OFF"
)

// RotateConfig mirrors lumberjack's own knobs so callers needn't import it
// directly.
type RotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

func DefaultRotateConfig() RotateConfig {
	return RotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: false}
}

// loggerFactory owns the handler configuration (format, destination,
// level, rotation) that produces defaultLogger. Recreated whenever the
// format, file, or level changes.
type loggerFactory struct {
	file         *lumberjack.Logger
	format       string // "text" or "json"
	level        string
	rotateConfig RotateConfig
	programLevel *slog.LevelVar
}

var (
	defaultLoggerFactory = &loggerFactory{
		format:       "text",
		level:        SeverityInfo,
		rotateConfig: DefaultRotateConfig(),
		programLevel: new(slog.LevelVar),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(os.Stderr))
)

func init() {
	setLoggingLevel(defaultLoggerFactory.level, defaultLoggerFactory.programLevel)
}

func levelName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return SeverityTrace
	case l < LevelInfo:
		return SeverityDebug
	case l < LevelWarn:
		return SeverityInfo
	case l < LevelError:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		level, _ := a.Value.Any().(slog.Level)
		return slog.Attr{Key: "severity", Value: slog.StringValue(levelName(level))}
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: a.Value}
	case slog.TimeKey:
		return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))}
	}
	return a
}

func (f *loggerFactory) createHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: f.programLevel, ReplaceAttr: replaceAttr}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	case SeverityTrace:
		programLevel.Set(LevelTrace)
	case SeverityDebug:
		programLevel.Set(LevelDebug)
	case SeverityInfo:
		programLevel.Set(LevelInfo)
	case SeverityWarning:
		programLevel.Set(LevelWarn)
	case SeverityError:
		programLevel.Set(LevelError)
	case SeverityOff:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// SetLogFormat switches the active handler between "text" and "json"
// without disturbing the current destination or level.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(w))
}

// InitLogFile redirects logging to a rotated file at path, in the given
// format and severity.
func InitLogFile(path, format, severity string, rotate RotateConfig) error {
	if path == "" {
		return fmt.Errorf("lcfs: log file path must not be empty")
	}
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotate.MaxFileSizeMB,
		MaxBackups: rotate.BackupFileCount,
		Compress:   rotate.Compress,
	}
	defaultLoggerFactory = &loggerFactory{
		file:         f,
		format:       format,
		level:        severity,
		rotateConfig: rotate,
		programLevel: new(slog.LevelVar),
	}
	setLoggingLevel(severity, defaultLoggerFactory.programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(f))
	return nil
}

func logAttrs(ctx context.Context, level slog.Level, format string, args ...interface{}) {
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...interface{}) { logAttrs(context.Background(), LevelTrace, format, args...) }
func Debugf(format string, args ...interface{}) { logAttrs(context.Background(), LevelDebug, format, args...) }
func Infof(format string, args ...interface{})  { logAttrs(context.Background(), LevelInfo, format, args...) }
func Warnf(format string, args ...interface{})  { logAttrs(context.Background(), LevelWarn, format, args...) }
func Errorf(format string, args ...interface{}) { logAttrs(context.Background(), LevelError, format, args...) }
