package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	levelVar = new(slog.LevelVar)
	output   = &syncWriter{w: os.Stderr}
)

// L is the process-wide logger. It never changes; SetOutput swaps the writer
// underneath it.
var L = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: levelVar}))

// syncWriter serializes writes and lets the destination change while other
// goroutines are logging.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// ValidLevel reports whether lvl is one of the names SetLevel understands.
func ValidLevel(lvl string) bool {
	switch strings.ToLower(lvl) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// SetOutput redirects L to w. The terminal UI owns stdout, so interactive
// mode points the logger at a file.
func SetOutput(w io.Writer) {
	output.set(w)
}

// Open creates (or appends to) the log file at path and makes it the logger
// output. An empty path discards all log output. The returned closer restores
// stderr output.
func Open(path string) (io.Closer, error) {
	if path == "" {
		SetOutput(io.Discard)
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	SetOutput(f)
	return closerFunc(func() error {
		SetOutput(os.Stderr)
		return f.Close()
	}), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
