package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiskStore reads and writes project files, confining every operation to
// the project root. Paths handed in are project-relative; traversal and
// symlink escapes are rejected before any IO happens.
type DiskStore struct {
	root string
}

// NewDiskStore returns a store rooted at the given project directory. The
// directory must exist.
func NewDiskStore(root string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrInvalidPath, root)
	}
	return &DiskStore{root: abs}, nil
}

// Root returns the absolute project root.
func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) resolve(path string) (string, error) {
	abs, err := SafeJoin(s.root, path)
	if err != nil {
		return "", err
	}
	ok, err := IsWithinDirReal(s.root, abs)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrPathEscape
	}
	return abs, nil
}

func (s *DiskStore) Read(path string) ([]byte, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (s *DiskStore) Write(path string, data []byte) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}
	return os.WriteFile(abs, data, 0o644)
}

func (s *DiskStore) Delete(path string) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}
	return os.Remove(abs)
}

// Exists reports whether path names an existing file or directory. "." is
// the root itself.
func (s *DiskStore) Exists(path string) bool {
	if path == "." {
		return true
	}
	abs, err := s.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}
