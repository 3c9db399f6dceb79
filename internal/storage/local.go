package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalWriter writes result files into one directory. Files are written to
// a temporary name first and renamed into place, so readers never observe
// a partial document.
type LocalWriter struct {
	dir string
}

// NewLocalWriter creates the output directory if needed
func NewLocalWriter(dir string) (*LocalWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &LocalWriter{dir: dir}, nil
}

// Dir returns the output directory
func (w *LocalWriter) Dir() string {
	return w.dir
}

// Write stores data under name and returns the final path. An existing
// file with the same name is replaced.
func (w *LocalWriter) Write(name string, data []byte) (string, error) {
	final := filepath.Join(w.dir, name)

	tmp, err := os.CreateTemp(w.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move result into place: %w", err)
	}
	return final, nil
}
