// core/manifestwriter.go
package core

import (
	"os"
	"sync"
)

// ManifestWriter is the streaming write-ahead log: every record is
// written and flushed to the OS before the call returns, so a crash
// leaves a usable partial manifest. It must be
// released on every exit path from a run, including panics — callers
// defer Close() immediately after construction succeeds.
type ManifestWriter struct {
	mu    sync.Mutex
	file  *os.File
	depth int
	closed bool
}

// NewManifestWriter opens (create-or-truncate) path and returns a
// writer ready to record the root directory's contents.
func NewManifestWriter(path string) (*ManifestWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, ClassifyFSError(path, err)
	}
	return &ManifestWriter{file: f}, nil
}

// Depth reports the writer's current Enter/Leave nesting depth.
func (w *ManifestWriter) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.depth
}

func (w *ManifestWriter) writeRecord(k RecordKind, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrManifestClosed
	}

	line := formatRecord(k, name)
	if _, err := w.file.WriteString(line); err != nil {
		return ClassifyFSError(w.file.Name(), err)
	}
	if err := w.file.Sync(); err != nil {
		return ClassifyFSError(w.file.Name(), err)
	}
	return nil
}

// Enter pushes name onto the cursor and asserts that directory was
// copied. Must be balanced by exactly one Leave.
func (w *ManifestWriter) Enter(name string) error {
	if err := w.writeRecord(RecordEnter, name); err != nil {
		return err
	}
	w.mu.Lock()
	w.depth++
	w.mu.Unlock()
	return nil
}

// Leave pops the cursor. It is a programmer error to call Leave at
// depth 0 — the caller must never schedule a Leave that wasn't paired
// with a successful Enter.
func (w *ManifestWriter) Leave() error {
	w.mu.Lock()
	if w.depth == 0 {
		w.mu.Unlock()
		return ErrInvariantViolation
	}
	w.mu.Unlock()

	if err := w.writeRecord(RecordLeave, ""); err != nil {
		return err
	}
	w.mu.Lock()
	w.depth--
	w.mu.Unlock()
	return nil
}

// DirectoryRemoved asserts that a direct child directory, present in
// the prior sum, no longer exists.
func (w *ManifestWriter) DirectoryRemoved(name string) error {
	return w.writeRecord(RecordDirectoryRemoved, name)
}

// FileCopied asserts that a file in the current directory was copied
// this run.
func (w *ManifestWriter) FileCopied(name string) error {
	return w.writeRecord(RecordFileCopied, name)
}

// FileRemoved asserts that a file, present in the prior sum, no longer
// exists.
func (w *ManifestWriter) FileRemoved(name string) error {
	return w.writeRecord(RecordFileRemoved, name)
}

// Close releases the underlying file handle. Safe to call more than
// once and safe to call after a failed write.
func (w *ManifestWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
