// Package atomicfile replaces files via write-to-temp, fsync and rename, so
// that readers never observe a partially-written file.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMode is used when a zero mode is passed to Write.
const DefaultMode os.FileMode = 0o644

// WriteFile atomically replaces the file at path with data.
func WriteFile(path string, data []byte, mode os.FileMode) error {
	return Write(path, mode, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Write atomically replaces the file at path with whatever fn writes. The
// temporary file lives next to path and is removed if any step fails,
// including fn itself.
func Write(path string, mode os.FileMode, fn func(w io.Writer) error) (retErr error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	f, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp: %w", err)
	}
	tmpPath := f.Name()
	defer func() {
		if retErr != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := fn(f); err != nil {
		return fmt.Errorf("atomicfile: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("atomicfile: fsync: %w", err)
	}
	if mode == 0 {
		mode = DefaultMode
	}
	if err := f.Chmod(mode); err != nil {
		return fmt.Errorf("atomicfile: chmod: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("atomicfile: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: rename: %w", err)
	}
	return nil
}
