package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter writes a file through a sibling temp file and a rename, so
// readers never observe a half-written store.
type AtomicWriter struct {
	path string
	tmp  *os.File
}

// NewAtomicWriter creates the parent directory of path if needed and opens
// a temp file next to it.
func NewAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ytrelay-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &AtomicWriter{path: path, tmp: tmp}, nil
}

func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

// Commit fsyncs the temp file and renames it over the target.
func (w *AtomicWriter) Commit() error {
	if err := w.tmp.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Abort discards the temp file.
func (w *AtomicWriter) Abort() error {
	w.tmp.Close()
	return os.Remove(w.tmp.Name())
}
