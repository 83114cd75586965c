// Package fsutil writes generated artifacts without exposing partial files.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(name, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return os.Rename(name, path)
}

// StageDir creates a hidden staging directory inside dir. Files written there
// are moved into dir with Commit; Discard removes whatever is left.
type StageDir struct {
	dir   string
	path  string
	files []string
}

// NewStageDir creates the staging directory.
func NewStageDir(dir string) (*StageDir, error) {
	path, err := os.MkdirTemp(dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &StageDir{dir: dir, path: path}, nil
}

// WriteFile writes name into the staging directory.
func (s *StageDir) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(filepath.Join(s.path, name), data, perm); err != nil {
		return err
	}
	s.files = append(s.files, name)
	return nil
}

// Commit renames every staged file into the target directory.
func (s *StageDir) Commit() error {
	for _, name := range s.files {
		if err := os.Rename(filepath.Join(s.path, name), filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
	}
	s.files = nil
	return nil
}

// Discard removes the staging directory.
func (s *StageDir) Discard() error {
	return os.RemoveAll(s.path)
}
