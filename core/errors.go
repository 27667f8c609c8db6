// core/errors.go
package core

import "errors"

// Sentinel errors shared across the package. Recoverable traversal
// conditions (an unreadable path, a failed copy, a manifest I/O failure,
// an excluded subtree) are reported as warnings rather than returned
// errors — see core/traverse.go.
var (
	// ErrNoParentManifest is logged as a warning by LoadHistory when the
	// index has entries for the source but none of them could be loaded
	// (not fatal; the run proceeds with an empty history).
	ErrNoParentManifest = errors.New("no usable prior backup found")

	// ErrInvariantViolation marks a programmer-error condition: manifest
	// depth failed to return to zero, or a Leave executed with an empty
	// stack.
	ErrInvariantViolation = errors.New("incbackup: invariant violation")

	// ErrManifestClosed is returned by the manifest writer once its
	// underlying file handle has been released.
	ErrManifestClosed = errors.New("incbackup: manifest writer is closed")
)
