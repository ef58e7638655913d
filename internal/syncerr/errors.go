package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for reporting and retry decisions.
type Kind string

const (
	KindNone              Kind = ""
	KindManifest          Kind = "ManifestError"
	KindPathTraversal     Kind = "PathTraversalError"
	KindNetwork           Kind = "NetworkError"
	KindSizeLimitExceeded Kind = "SizeLimitExceeded"
	KindSizeMismatch      Kind = "SizeMismatch"
	KindHashMismatch      Kind = "HashMismatch"
	KindPermissionApply   Kind = "PermissionApplyError"
	KindCleanup           Kind = "CleanupError"
	KindWrite             Kind = "WriteError"
	KindCanceled          Kind = "Canceled"
	KindStale             Kind = "Stale"
)

var (
	ErrDestinationLocked      = errors.New("destination is locked by another run")
	ErrDestinationNotWritable = errors.New("destination is not writable")
)

// Error is a classified failure bound to a single manifest path.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func New(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func Newf(kind Kind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindNone
}

// Retryable reports whether the scheduler may attempt the item again.
// Only transport failures and unclassified write errors qualify; size and
// hash failures point at a persistent manifest/source inconsistency.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindWrite:
		return true
	default:
		return false
	}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
