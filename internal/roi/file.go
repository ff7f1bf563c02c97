package roi

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"roiwatch/internal/errdefs"
)

// SaveFile writes the registry to path atomically: the list is written to a
// temporary file in the same directory, synced, and renamed over path.
func (r *Registry) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := r.Persist(&buf); err != nil {
		return &errdefs.PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return &errdefs.PersistenceError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// LoadFile replaces the registry contents with the list stored at path. A
// missing or invalid file leaves the registry unchanged; missing files
// satisfy errors.Is(err, fs.ErrNotExist).
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &errdefs.PersistenceError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()

	if err := r.Restore(f); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	committed = true
	return nil
}
