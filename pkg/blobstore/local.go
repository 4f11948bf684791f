package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/natefinch/atomic"
)

// Local is a Store backed by the host filesystem, rooted at Root. All paths
// passed to its methods are relative to Root.
type Local struct {
	Root string
}

// NewLocal returns a Store rooted at root, creating root if it does not
// already exist.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root %s: %w", root, err)
	}
	return &Local{Root: root}, nil
}

func (l *Local) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.Root, path)
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(l.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(l.abs(path))
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", path, err)
	}
	return data, nil
}

// Write stores data atomically: it writes to a temp file in the same
// directory and renames over the destination, so a reader never observes a
// partially written object.
func (l *Local) Write(_ context.Context, path string, data []byte) error {
	dest := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("blobstore: creating parent for %s: %w", path, err)
	}
	if err := atomic.WriteFile(dest, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", path, err)
	}
	return nil
}

func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(l.abs(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blobstore: list %s: %w", prefix, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (l *Local) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(l.Root), toSlash(pattern))
	if err != nil {
		return nil, fmt.Errorf("blobstore: glob %q: %w", pattern, err)
	}
	return matches, nil
}

func (l *Local) Join(parts ...string) string {
	return filepath.Join(parts...)
}

func toSlash(p string) string {
	return filepath.ToSlash(p)
}
