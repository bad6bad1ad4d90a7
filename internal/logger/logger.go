// Package logger is the process-wide structured logger, a thin layer over
// log/slog with a colour text handler and NETCONF context fields.
//
// Usage: logger.Info("message", "key1", value1, "key2", value2)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a Level. "WARNING" is accepted for WARN.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value // "text" or "json"

	mu       sync.RWMutex
	slogger  *slog.Logger
	output   io.Writer = os.Stdout
	logFile  *os.File
	useColor bool
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	currentFormat.Store("text")
	useColor = isTerminal(os.Stdout)
	reconfigure()
}

// reconfigure rebuilds the slog handler from the current level, format and
// output.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: Level(currentLevel.Load()).slogLevel()}

	var h slog.Handler
	if format, _ := currentFormat.Load().(string); format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Output is "stdout", "stderr" or a file path opened for
// append; a previously opened log file is closed.
func Init(cfg Config) error {
	if cfg.Output != "" {
		if err := setOutput(cfg.Output); err != nil {
			return err
		}
	}
	if level, ok := ParseLevel(cfg.Level); ok {
		currentLevel.Store(int32(level))
	}
	if f := strings.ToLower(cfg.Format); f == "text" || f == "json" {
		currentFormat.Store(f)
	}

	reconfigure()
	return nil
}

func setOutput(target string) error {
	var (
		w     io.Writer
		color bool
		file  *os.File
	)
	switch strings.ToLower(target) {
	case "stdout":
		w, color = os.Stdout, isTerminal(os.Stdout)
	case "stderr":
		w, color = os.Stderr, isTerminal(os.Stderr)
	default:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", target, err)
		}
		w, file = f, f
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil && logFile != file {
		_ = logFile.Close()
	}
	output, logFile, useColor = w, file, color
	return nil
}

// InitWithWriter sends records to w. Used by tests.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	output = w
	useColor = enableColor
	mu.Unlock()

	_ = Init(Config{Level: level, Format: format})
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	l, ok := ParseLevel(level)
	if !ok {
		return
	}
	currentLevel.Store(int32(l))
	reconfigure()
}

// SetFormat selects the "text" or "json" handler. Other values are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	currentFormat.Store(format)
	reconfigure()
}

// IsDebugEnabled reports whether debug records are emitted. Check it before
// building expensive payloads such as XML dumps.
func IsDebugEnabled() bool {
	return enabled(LevelDebug)
}

func enabled(l Level) bool {
	return l >= Level(currentLevel.Load())
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func emit(ctx context.Context, l Level, msg string, args []any) {
	if !enabled(l) {
		return
	}
	args = appendContextFields(ctx, args)
	getLogger().Log(context.Background(), l.slogLevel(), msg, args...)
}

// ============================================================================
// Structured Logging API
// ============================================================================

func Debug(msg string, args ...any) { emit(context.Background(), LevelDebug, msg, args) }
func Info(msg string, args ...any) { emit(context.Background(), LevelInfo, msg, args) }
func Warn(msg string, args ...any) { emit(context.Background(), LevelWarn, msg, args) }
func Error(msg string, args ...any) { emit(context.Background(), LevelError, msg, args) }

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, prefixing the fields of the LogContext in ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelDebug, msg, args) }
func InfoCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelInfo, msg, args) }
func WarnCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelWarn, msg, args) }
func ErrorCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelError, msg, args) }

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := make([]any, 0, 14+len(args))
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, key, value)
		}
	}
	add(KeyTraceID, lc.TraceID)
	add(KeySpanID, lc.SpanID)
	if lc.SessionID != 0 {
		fields = append(fields, KeySessionID, lc.SessionID)
	}
	add(KeyMessageID, lc.MessageID)
	add(KeyOperation, lc.Operation)
	add(KeyClientIP, lc.ClientIP)
	add(KeyUsername, lc.Username)

	return append(fields, args...)
}

// With returns a logger carrying args on every record.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns the milliseconds elapsed since start.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
