package local

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type LocalStore struct {
	basePath string
	now      func() time.Time
}

func New(basePath string) (*LocalStore, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{basePath: abs, now: time.Now}, nil
}

// Save writes the blob under a per-day directory. The file appears only once
// fully written.
func (s *LocalStore) Save(name string, reader io.Reader) (string, int64, error) {
	if name == "" || filepath.Base(name) != name {
		return "", 0, fmt.Errorf("invalid file name %q", name)
	}

	dir := filepath.Join(s.basePath, s.now().UTC().Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create date dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close file: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("publish file: %w", err)
	}
	return path, n, nil
}

// Open reads a file previously returned by Save. Paths outside the store are
// rejected.
func (s *LocalStore) Open(path string) (io.ReadCloser, error) {
	clean := filepath.Clean(path)
	if clean != s.basePath && !strings.HasPrefix(clean, s.basePath+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %q is outside the store", path)
	}
	f, err := os.Open(clean)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Latest walks the store for the greatest file name starting with prefix.
// Names that embed a fixed-width timestamp therefore resolve to the newest.
func (s *LocalStore) Latest(prefix string) (string, error) {
	var best, bestName string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			return nil
		}
		if name > bestName {
			best, bestName = path, name
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan storage dir: %w", err)
	}
	if best == "" {
		return "", fmt.Errorf("no file with prefix %q: %w", prefix, fs.ErrNotExist)
	}
	return best, nil
}
