package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Source yields the current instruction text.
type Source interface {
	Current() string
}

// Static is a fixed instruction.
type Static string

func (s Static) Current() string { return string(s) }

// FileSource serves the contents of a file, falling back to a built-in text
// when the file is missing or empty.
type FileSource struct {
	path     string
	fallback string
	logger   *slog.Logger

	mu   sync.RWMutex
	text string
}

// NewSource returns Static(fallback) for an empty path and a loaded
// FileSource otherwise.
func NewSource(path, fallback string, logger *slog.Logger) (Source, error) {
	if strings.TrimSpace(path) == "" {
		return Static(fallback), nil
	}
	return NewFileSource(path, fallback, logger)
}

func NewFileSource(path, fallback string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileSource{
		path:     path,
		fallback: fallback,
		logger:   logger.With("component", "prompts", "path", path),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Reload re-reads the file. A missing file keeps the fallback text.
func (s *FileSource) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read instruction file: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = s.fallback
	}
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
	return nil
}

// Watch reloads the file whenever it is written or recreated, until ctx is
// done. The parent directory is watched so atomic editor renames are seen.
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn("reload instruction failed", "err", err)
					continue
				}
				s.logger.Info("instruction reloaded", "op", event.Op.String())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("instruction watcher error", "err", err)
			}
		}
	}()
	return nil
}
