package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

const filePermission = 0600

// WriteFileAtomic writes content to filepath.Join(dir, filename) atomically:
// it writes to a temp file in dir, fsyncs it, then renames it into place, so
// a crash or concurrent reader never observes a partially-written file. dir
// is created (including parents) if it does not already exist.
func WriteFileAtomic(filename, dir string, content []byte) error {
	if dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return fmt.Errorf("creating directory %q: %w", dir, err)
			}
		}
	}

	target := filepath.Join(dir, filename)
	tmp, err := os.CreateTemp(dir, "."+filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePermission); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}
