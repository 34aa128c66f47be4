// Package file persists the policy state as a single JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/memohai/warden/internal/policy"
)

const (
	defaultFilePerm os.FileMode = 0o600
	defaultDirPerm  os.FileMode = 0o755
)

// Store reads and writes the state file at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// New creates a Store for path.
func New(log *slog.Logger, path string) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		path:   path,
		logger: log.With(slog.String("component", "storage.file")),
	}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load decodes the state file. A missing file yields an empty state.
func (s *Store) Load(ctx context.Context) (policy.State, error) {
	if err := ctx.Err(); err != nil {
		return policy.State{}, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("state file not found, starting empty", slog.String("path", s.path))
			return policy.State{}, nil
		}
		return policy.State{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	var state policy.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return policy.State{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return state, nil
}

// Save replaces the state file atomically.
func (s *Store) Save(ctx context.Context, state policy.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return WriteAtomic(s.path, raw)
}

// WriteAtomic writes content to a temp file in the target directory, syncs it
// and renames it over path.
func WriteAtomic(path string, content []byte) error {
	parentDir := filepath.Dir(path)
	if err := os.MkdirAll(parentDir, defaultDirPerm); err != nil {
		return fmt.Errorf("ensure dir %s: %w", parentDir, err)
	}

	tmp, err := os.CreateTemp(parentDir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	defer cleanup()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}

	// Best effort; the rename already happened.
	if dir, err := os.Open(parentDir); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}
