// core/traverse.go
package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
)

const copyBufferSize = 256 * 1024

// RunResult accumulates the sticky flags and warnings produced by one
// traversal. Both flags are monotonic: PathsSkipped only ever flips
// false→true, ManifestComplete only ever flips true→false.
type RunResult struct {
	PathsSkipped     bool
	ManifestComplete bool
	Warnings         *multierror.Error
}

// TraverseOptions configures one depth-first walk of the source.
type TraverseOptions struct {
	// SourceRoot is the already-canonical absolute path of the directory
	// being backed up.
	SourceRoot string
	// DataDir is <backup>/data, the root of the mirror tree.
	DataDir string
	// Excludes holds already-canonical absolute paths to neither copy
	// nor descend into.
	Excludes []string
	// Sum is the cumulative prior-backup tree consulted for the copy
	// and removal decisions. May be an empty tree (first backup).
	Sum *SumDirectory
	// Writer is the manifest this run records into.
	Writer *ManifestWriter
}

type opKind int

const (
	opVisit opKind = iota
	opBacktrack
)

type stackOp struct {
	kind opKind

	// opVisit fields.
	absPath       string
	relComponents []string
	isRoot        bool

	// opBacktrack fields.
	popManifest bool
}

type traversal struct {
	opts   TraverseOptions
	result RunResult
}

func (t *traversal) warn(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	log.Printf("warning: %v", err)
	t.result.Warnings = multierror.Append(t.result.Warnings, err)
}

// Traverse walks opts.SourceRoot depth-first, copying changed/new files
// into opts.DataDir and recording every decision to opts.Writer. The
// returned error is non-nil only when the source root itself cannot be
// stat'ed, mirrored or enumerated, or (as ErrInvariantViolation) when
// the manifest depth does not return to zero; every other failure is
// absorbed into the returned RunResult's sticky flags and warnings.
func Traverse(opts TraverseOptions) (*RunResult, error) {
	t := &traversal{opts: opts, result: RunResult{ManifestComplete: true}}

	stack := []stackOp{{kind: opVisit, absPath: opts.SourceRoot, isRoot: true}}

	for len(stack) > 0 {
		op := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if op.kind == opBacktrack {
			if op.popManifest {
				if err := t.opts.Writer.Leave(); err != nil {
					t.result.PathsSkipped = true
					t.result.ManifestComplete = false
					t.warn("manifest leave failed: %v", err)
					// A manifest-I/O failure during leave() halts the
					// traversal cleanly rather than continuing with
					// misattributed subsequent records.
					return &t.result, nil
				}
			}
			continue
		}

		if fatal := t.visitDirectory(op, &stack); fatal != nil {
			return &t.result, fatal
		}
	}

	if t.opts.Writer.Depth() != 0 {
		return &t.result, ErrInvariantViolation
	}
	return &t.result, nil
}

func (t *traversal) visitDirectory(op stackOp, stack *[]stackOp) error {
	rootFatal := func(stage string, err error) error {
		return fmt.Errorf("runtime error: failed to %s for source root %s: %w", stage, op.absPath, err)
	}

	// Step 1: confirm the directory still exists.
	if _, err := os.Lstat(op.absPath); err != nil {
		fsErr := ClassifyFSError(op.absPath, err)
		if op.isRoot {
			return rootFatal("stat", fsErr)
		}
		t.result.PathsSkipped = true
		t.warn("cannot stat directory %s: %v", op.absPath, fsErr)
		return nil
	}

	// Step 2: exclude check.
	if t.isExcluded(op.absPath) {
		log.Printf("excluding directory %s", op.absPath)
		return nil
	}

	// Step 3: look up this directory's node in the sum.
	sumNode := t.opts.Sum.FindDirectory(op.relComponents)

	// Step 4: create the mirror directory.
	destDir := filepath.Join(t.opts.DataDir, filepath.Join(op.relComponents...))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		fsErr := ClassifyFSError(destDir, err)
		if op.isRoot {
			return rootFatal("create mirror directory", fsErr)
		}
		t.result.PathsSkipped = true
		t.warn("cannot create mirror directory %s: %v", destDir, fsErr)
		return nil
	}

	// Step 5: Enter (skipped for the source root itself).
	entered := false
	if !op.isRoot {
		name := op.relComponents[len(op.relComponents)-1]
		if err := t.opts.Writer.Enter(name); err != nil {
			t.result.PathsSkipped = true
			t.result.ManifestComplete = false
			t.warn("manifest enter failed for %s: %v", op.absPath, err)
			// Skip this entire subtree: no recursion, no Leave scheduled.
			return nil
		}
		entered = true
	}

	// Step 6: read the file list.
	fileNames, err := readFileNames(op.absPath)
	if err != nil {
		fsErr := ClassifyFSError(op.absPath, err)
		if op.isRoot {
			return rootFatal("list files in", fsErr)
		}
		t.result.PathsSkipped = true
		t.warn("cannot list files in %s: %v", op.absPath, fsErr)
		fileNames = nil
	}
	sort.Strings(fileNames)

	// Step 7: per-file decision.
	var observedFiles []string
	for _, name := range fileNames {
		fullPath := filepath.Join(op.absPath, name)

		info, err := os.Lstat(fullPath)
		if err != nil {
			t.result.PathsSkipped = true
			t.warn("cannot stat file %s: %v", fullPath, ClassifyFSError(fullPath, err))
			continue
		}
		observedFiles = append(observedFiles, name)

		if t.isExcluded(fullPath) {
			log.Printf("excluding file %s", fullPath)
			continue
		}

		if !ShouldCopy(sumNode, name, info.ModTime().UTC()) {
			continue
		}

		destPath := filepath.Join(destDir, name)
		if err := copyFile(fullPath, destPath, info.Mode()); err != nil {
			t.result.PathsSkipped = true
			t.warn("failed to copy %s: %v", fullPath, err)
			continue
		}
		_ = os.Chtimes(destPath, info.ModTime(), info.ModTime())

		if err := t.opts.Writer.FileCopied(name); err != nil {
			t.result.ManifestComplete = false
			t.warn("manifest file-copied write failed for %s: %v", fullPath, err)
		}
	}

	// Step 8: files present in the sum but no longer observed on disk.
	if sumNode != nil {
		for _, f := range sumNode.Files {
			if containsName(observedFiles, f.Name) {
				continue
			}
			if err := t.opts.Writer.FileRemoved(f.Name); err != nil {
				t.result.ManifestComplete = false
				t.warn("manifest file-removed write failed for %s: %v", f.Name, err)
			}
		}
	}

	// Step 9: read the subdirectory list.
	subdirNames, err := readSubdirNames(op.absPath)
	if err != nil {
		fsErr := ClassifyFSError(op.absPath, err)
		if op.isRoot {
			return rootFatal("list subdirectories in", fsErr)
		}
		t.result.PathsSkipped = true
		t.warn("cannot list subdirectories in %s: %v", op.absPath, fsErr)
		subdirNames = nil
	}
	sort.Strings(subdirNames)

	// Step 10: subdirectories present in the sum but no longer observed.
	if sumNode != nil {
		for _, d := range sumNode.Dirs {
			if containsName(subdirNames, d.Name) {
				continue
			}
			if err := t.opts.Writer.DirectoryRemoved(d.Name); err != nil {
				t.result.ManifestComplete = false
				t.warn("manifest directory-removed write failed for %s: %v", d.Name, err)
			}
		}
	}

	// Step 11: schedule Leave (only if Enter was emitted).
	if entered {
		*stack = append(*stack, stackOp{kind: opBacktrack, popManifest: true})
	}

	// Step 12: schedule each observed subdirectory, pushed in reverse so
	// they execute in natural (sorted) order ahead of this directory's
	// own Leave.
	for i := len(subdirNames) - 1; i >= 0; i-- {
		name := subdirNames[i]
		*stack = append(*stack, stackOp{
			kind:          opVisit,
			absPath:       filepath.Join(op.absPath, name),
			relComponents: append(append([]string{}, op.relComponents...), name),
		})
	}

	return nil
}

func (t *traversal) isExcluded(path string) bool {
	for _, ex := range t.opts.Excludes {
		if PathEqual(ex, path) {
			return true
		}
	}
	return false
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if PathEqual(n, name) {
			return true
		}
	}
	return false
}

// readFileNames and readSubdirNames are deliberately two independent
// directory reads so that a failure of one does not imply a failure of
// the other.
func readFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func readSubdirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// copyFile copies src to dst byte-for-byte, overwriting dst if it
// already exists.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return ClassifyFSError(src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return ClassifyFSError(dst, err)
	}
	defer out.Close()

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return ClassifyFSError(dst, err)
	}
	return nil
}
