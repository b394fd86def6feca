package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// fileBackend keeps each collection in <dir>/<name>.json.
type fileBackend struct {
	dir string
}

func newFileBackend(dir string) (*fileBackend, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &fileBackend{dir: dir}, nil
}

// CollectionPath returns the file backing the named collection in dir.
func CollectionPath(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

func (f *fileBackend) load(_ context.Context, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(CollectionPath(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// save writes to a temp file in the same directory and renames it over the
// target, so readers never observe a half-written document.
func (f *fileBackend) save(_ context.Context, name string, data []byte) error {
	path := CollectionPath(f.dir, name)
	tmp, err := os.CreateTemp(f.dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (f *fileBackend) close() error {
	return nil
}
