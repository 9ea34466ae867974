// Package blob is a file-backed store for raw upstream documents
// (cached CVE JSON), keyed by relative path.
package blob

import (
	"os"
	"path/filepath"
	"strings"
)

type Store struct {
	Dir string
}

// New creates the root directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(key string) string {
	// Keys are upstream-derived; keep them inside the root.
	clean := filepath.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	return filepath.Join(s.Dir, clean)
}

// Get returns the stored bytes, or false when absent.
func (s *Store) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put writes the bytes, creating parent directories as needed.
func (s *Store) Put(key string, data []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
