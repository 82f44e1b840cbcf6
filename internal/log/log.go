// Package log is reef's process-wide structured logger. Records fan out to
// stderr (text or JSON) and, when a debug directory is configured, to a
// daily-rotated JSONL file that always captures every level.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

var (
	logger     *slog.Logger
	fileWriter *FileWriter
)

// Options configures the logger.
type Options struct {
	// Verbose lowers the stderr threshold from warn to debug.
	Verbose bool
	// JSONFormat writes stderr records as JSON.
	JSONFormat bool
	// DebugDir receives daily JSONL files at debug level. Empty disables them.
	DebugDir string
	// RetentionDays prunes older files in DebugDir. Zero keeps everything.
	RetentionDays int
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// sensitiveKeys are attribute keys whose values are replaced before any
// handler sees them. Key references are fine to log; key material,
// channel tokens and message bodies are not.
var sensitiveKeys = map[string]bool{
	"private_key": true,
	"passphrase":  true,
	"token":       true,
	"secret":      true,
	"message":     true,
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[a.Key] {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}

func newHandler(w io.Writer, json bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Init replaces the process logger. On error the previous logger stays in
// place.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlers := []slog.Handler{newHandler(stderr, opts.JSONFormat, level)}

	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.DebugDir, opts.RetentionDays)
		}
		fw, err := NewFileWriter(opts.DebugDir)
		if err != nil {
			return err
		}
		Close()
		fileWriter = fw
		handlers = append(handlers, newHandler(fw, true, slog.LevelDebug))
	}

	logger = slog.New(&multiHandler{handlers: handlers})
	slog.SetDefault(logger)
	return nil
}

// Close flushes and closes the debug file, if any.
func Close() {
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

// multiHandler fans out log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
func Info(msg string, args ...any) { logger.Info(msg, args...) }
func Warn(msg string, args ...any) { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }

// Operation returns a logger tagged with the operation kind and a fresh
// op_id, along with the id so callers can record it elsewhere (e.g. the
// audit journal).
func Operation(kind string, args ...any) (*slog.Logger, string) {
	id := uuid.NewString()
	return logger.With(append([]any{"op", kind, "op_id", id}, args...)...), id
}

// SetOutput sends every level to w as text. Tests use it to capture records.
func SetOutput(w io.Writer) {
	logger = slog.New(newHandler(w, false, slog.LevelDebug))
	slog.SetDefault(logger)
}

func init() { logger = slog.Default() }
