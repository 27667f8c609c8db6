// core/fserr.go
package core

import (
	"errors"
	"io/fs"
	"os"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the stable, four-valued classification every filesystem call
// in the core is funneled through. Handlers dispatch only on Kind, never
// on the underlying OS error type.
type Kind int

const (
	// KindInvalidPath covers malformed or unsupported path shapes.
	KindInvalidPath Kind = iota
	// KindNotFound covers any missing path component.
	KindNotFound
	// KindAccessDenied covers permission or security vetoes.
	KindAccessDenied
	// KindOther covers every remaining I/O failure; the original OS
	// message is carried on the error for diagnostics.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPath:
		return "InvalidPath"
	case KindNotFound:
		return "NotFound"
	case KindAccessDenied:
		return "AccessDenied"
	default:
		return "Other"
	}
}

// FSError is the result of classifying a raw filesystem error. err
// carries the pkg/errors-wrapped cause, stack trace included, so
// Unwrap lets callers (and errors.Is/errors.As) reach the original OS
// error through it.
type FSError struct {
	Kind Kind
	Path string
	err  error
}

func (e *FSError) Error() string {
	if e.Path != "" {
		return e.Kind.String() + ": " + e.Path + ": " + e.err.Error()
	}
	return e.Kind.String() + ": " + e.err.Error()
}

func (e *FSError) Unwrap() error { return e.err }

// ClassifyFSError converts a raw error returned by any filesystem call
// into an *FSError. A nil input yields a nil output. The classification
// is based on fs.PathError/fs.ErrNotExist/fs.ErrPermission sentinels
// rather than inspecting the underlying errno/exception by name, so it
// is stable across platforms.
func ClassifyFSError(path string, err error) *FSError {
	if err == nil {
		return nil
	}

	wrapped := pkgerrors.Wrap(err, "filesystem operation failed")

	kind := KindOther
	switch {
	case errors.Is(err, fs.ErrInvalid):
		kind = KindInvalidPath
	case errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = KindAccessDenied
	case isInvalidPathShape(err):
		kind = KindInvalidPath
	}

	return &FSError{Kind: kind, Path: path, err: wrapped}
}

// isInvalidPathShape recognizes the common *os.PathError / *os.LinkError
// wrapping of syscall-level "name too long" / "invalid argument" style
// failures that fs.ErrInvalid does not cover on every platform.
func isInvalidPathShape(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err.Error() {
		case "invalid argument", "file name too long":
			return true
		}
	}
	return false
}
