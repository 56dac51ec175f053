// Package logger wires the process-wide slog handler. Records always go to
// stderr; when file logging is enabled they are additionally appended as
// JSON to a dated file under the logs directory.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type state struct {
	mu      sync.Mutex
	file    *os.File
	handler *fileSwitchHandler
}

var global state

// fileSwitchHandler forwards to a console handler and, when enabled, to a
// JSON file handler. The file side can be swapped at runtime.
type fileSwitchHandler struct {
	console slog.Handler

	mu   *sync.RWMutex
	file slog.Handler
}

func (h *fileSwitchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level)
}

func (h *fileSwitchHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.console.Handle(ctx, record)
	h.mu.RLock()
	file := h.file
	h.mu.RUnlock()
	if file != nil {
		if fileErr := file.Handle(ctx, record.Clone()); err == nil {
			err = fileErr
		}
	}
	return err
}

func (h *fileSwitchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	next := &fileSwitchHandler{console: h.console.WithAttrs(attrs), mu: h.mu}
	if h.file != nil {
		next.file = h.file.WithAttrs(attrs)
	}
	return next
}

func (h *fileSwitchHandler) WithGroup(name string) slog.Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	next := &fileSwitchHandler{console: h.console.WithGroup(name), mu: h.mu}
	if h.file != nil {
		next.file = h.file.WithGroup(name)
	}
	return next
}

// LogsDir returns the directory log files are written to.
func LogsDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "picacomic-downloader", "logs"), nil
}

// Init installs the process-wide handler. Call once at startup.
func Init(enableFile bool) error {
	handler := &fileSwitchHandler{
		console: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		mu:      &sync.RWMutex{},
	}

	global.mu.Lock()
	global.handler = handler
	global.mu.Unlock()

	slog.SetDefault(slog.New(handler))

	if enableFile {
		return SetFileLogging(true)
	}
	return nil
}

// SetFileLogging turns the file side of the handler on or off; used when the
// enableFileLogger config key changes.
func SetFileLogging(enable bool) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.handler == nil {
		if !enable {
			return nil
		}
		return fmt.Errorf("logger not initialized")
	}

	if !enable {
		global.handler.mu.Lock()
		global.handler.file = nil
		global.handler.mu.Unlock()
		if global.file != nil {
			global.file.Close()
			global.file = nil
		}
		return nil
	}

	if global.file != nil {
		return nil
	}

	dir, err := LogsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create logs dir %q: %w", dir, err)
	}
	name := fmt.Sprintf("picacomic-%s.log", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	global.file = file
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	global.handler.mu.Lock()
	global.handler.file = fileHandler
	global.handler.mu.Unlock()
	return nil
}

// DirSize sums the sizes of the files directly inside the logs dir.
func DirSize() (int64, error) {
	dir, err := LogsDir()
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read logs dir %q: %w", dir, err)
	}
	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
