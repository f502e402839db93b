// Package failure classifies the errors an export run can produce.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies how an error affects an export run.
type Kind int

const (
	KindUnknown Kind = iota
	// KindRender is a per-instance rendering failure. The instance is skipped.
	KindRender
	// KindCopy is a source file that could not be read or staged. Fatal.
	KindCopy
	// KindDirectoryWrite is a DICOMDIR parse or write failure. Fatal.
	KindDirectoryWrite
	// KindBuild is an ISO image builder failure. Fatal.
	KindBuild
	// KindResourceMissing is a missing viewer bundle. The export continues without it.
	KindResourceMissing
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrRender          = errors.New("dicomiso: render failure")
	ErrCopy            = errors.New("dicomiso: copy failure")
	ErrDirectoryWrite  = errors.New("dicomiso: directory write failure")
	ErrBuild           = errors.New("dicomiso: iso build failure")
	ErrResourceMissing = errors.New("dicomiso: resource missing")
)

func (k Kind) String() string {
	switch k {
	case KindRender:
		return "RenderFailure"
	case KindCopy:
		return "CopyFailure"
	case KindDirectoryWrite:
		return "DirectoryWriteFailure"
	case KindBuild:
		return "BuildFailure"
	case KindResourceMissing:
		return "ResourceMissing"
	default:
		return "Unknown"
	}
}

// Fatal reports whether an error of this kind aborts the run.
func (k Kind) Fatal() bool {
	switch k {
	case KindRender, KindResourceMissing:
		return false
	default:
		return true
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindRender:
		return ErrRender
	case KindCopy:
		return ErrCopy
	case KindDirectoryWrite:
		return ErrDirectoryWrite
	case KindBuild:
		return ErrBuild
	case KindResourceMissing:
		return ErrResourceMissing
	default:
		return nil
	}
}

// Error is a classified failure. Op names the step ("copy", "render", ...)
// and Path the file involved, if any.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// New wraps err with a kind. A nil err yields a nil error.
func New(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
