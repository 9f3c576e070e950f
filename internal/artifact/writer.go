package artifact

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Writer stages an artifact in a temporary file next to its final path.
// Commit publishes it with a rename; Abort discards it. An artifact is
// therefore either complete or absent.
type Writer struct {
	*bufio.Writer

	f      *os.File
	path   string
	closed bool
}

// Create opens a staging file for path, creating parent directories.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create staging file for %s: %w", path, err)
	}
	return &Writer{
		Writer: bufio.NewWriterSize(f, 1<<20),
		f:      f,
		path:   path,
	}, nil
}

// Path is the final artifact path.
func (w *Writer) Path() string {
	return w.path
}

// Commit flushes, syncs and renames the staging file onto the artifact path.
func (w *Writer) Commit() error {
	if w.closed {
		return fmt.Errorf("artifact %s already closed", w.path)
	}
	w.closed = true

	if err := w.Flush(); err != nil {
		w.discard()
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("sync %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	if err := os.Rename(w.f.Name(), w.path); err != nil {
		_ = os.Remove(w.f.Name())
		return fmt.Errorf("publish %s: %w", w.path, err)
	}
	return nil
}

// Abort discards the staging file. Safe to call after Commit.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}
