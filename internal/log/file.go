package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// rotatingFile is an append-only log file that moves itself aside once it
// grows past maxSize.
type rotatingFile struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxSize    int64
	maxAge     time.Duration
	maxBackups int
}

func openRotatingFile(cfg *Config) (*rotatingFile, error) {
	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	maxSize := int64(cfg.MaxSizeMB) * 1024 * 1024
	if maxSize < 1024 {
		maxSize = 1024
	}
	rf := &rotatingFile{
		path:       cfg.FilePath,
		maxSize:    maxSize,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		maxBackups: cfg.MaxBackups,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open() error {
	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rf.file = file
	rf.size = info.Size()
	return nil
}

// Write appends p, rotating first when the file is already full. Records are
// never split across files.
func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.size >= rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *rotatingFile) rotate() error {
	rf.file.Close()
	rf.file = nil

	backup := rf.path + "." + time.Now().Format("2006-01-02T15-04-05.000000000")
	if err := os.Rename(rf.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	rf.pruneBackups()
	return rf.open()
}

// pruneBackups keeps the newest maxBackups backups and drops any older than
// maxAge.
func (rf *rotatingFile) pruneBackups() {
	matches, err := filepath.Glob(rf.path + ".*")
	if err != nil {
		return
	}
	// Backup names embed their timestamp, so lexical order is age order.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	cutoff := time.Now().Add(-rf.maxAge)
	for i, path := range matches {
		if i >= rf.maxBackups {
			os.Remove(path)
			continue
		}
		if info, err := os.Stat(path); err == nil && rf.maxAge > 0 && info.ModTime().Before(cutoff) {
			os.Remove(path)
		}
	}
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// FileHandler writes logs to a size-rotated file. Handlers derived with
// WithAttrs or WithGroup share the file.
type FileHandler struct {
	out   *rotatingFile
	inner slog.Handler
}

// NewFileHandler creates a file handler with rotation.
func NewFileHandler(cfg *Config, level slog.Level) (*FileHandler, error) {
	out, err := openRotatingFile(cfg)
	if err != nil {
		return nil, err
	}
	return &FileHandler{out: out, inner: newFormatHandler(out, cfg.Format, level)}, nil
}

// Enabled reports whether the handler handles records at the given level.
func (h *FileHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle writes the record to the file.
func (h *FileHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes.
func (h *FileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FileHandler{out: h.out, inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group.
func (h *FileHandler) WithGroup(name string) slog.Handler {
	return &FileHandler{out: h.out, inner: h.inner.WithGroup(name)}
}

// Close closes the underlying file.
func (h *FileHandler) Close() error {
	return h.out.Close()
}
