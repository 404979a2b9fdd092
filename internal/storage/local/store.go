// Package local publishes the snapshot as a single file on a filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// Config captures the parameters for the local snapshot store.
type Config struct {
	// Path is the file that always holds the latest snapshot.
	Path string `mapstructure:"path" yaml:"path"`
	// FS defaults to the OS filesystem.
	FS afero.Fs `mapstructure:"-" yaml:"-"`
}

// Store replaces a single file atomically: the new content is written to a
// temp file in the same directory, synced and renamed over the target.
type Store struct {
	fs   afero.Fs
	path string

	// Serializes publishers; readers never take it.
	mu sync.Mutex
}

// New creates the store, creating the parent directory and checking it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	fs := cfg.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	path := filepath.Clean(cfg.Path)
	dir := filepath.Dir(path)

	info, err := fs.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := fs.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat snapshot directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("snapshot directory %q is not a directory", dir)
	}

	probe, err := afero.TempFile(fs, dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := fs.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	return &Store{fs: fs, path: path}, nil
}

// Path returns the published file location.
func (s *Store) Path() string {
	return s.path
}

// Publish atomically replaces the snapshot file with data. On failure the
// previous file is left untouched.
func (s *Store) Publish(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to publish empty snapshot")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = s.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	// #nosec G302 -- the snapshot is served publicly.
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	committed = true
	return nil
}

// Read returns the current snapshot or snapshot.ErrNotFound before the first publish.
func (s *Store) Read(_ context.Context) (snapshot.Snapshot, error) {
	f, err := s.fs.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("stat snapshot: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snapshot.Snapshot{Data: data, ModTime: info.ModTime()}, nil
}
