// Package cowerr defines the closed set of errors a clone can fail with and
// translates native status codes into it.
package cowerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies a clone failure.
type Kind int

const (
	// PlatformError is any native failure without a more specific kind.
	PlatformError Kind = iota
	// NotFound means the source file does not exist.
	NotFound
	// PathNotFound means an intermediate directory does not exist.
	PathNotFound
	// Unauthorized covers permission failures and a directory given where a file was required.
	Unauthorized
	// Unsupported means the volume, or the pair of volumes, cannot clone.
	Unsupported
	// TooManyLinks means the per-file clone ceiling was reached.
	TooManyLinks
	// Cancelled means the caller's context ended before the clone finished.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case PlatformError:
		return "platform_error"
	case NotFound:
		return "not_found"
	case PathNotFound:
		return "path_not_found"
	case Unauthorized:
		return "unauthorized"
	case Unsupported:
		return "unsupported"
	case TooManyLinks:
		return "too_many_links"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified clone failure.
type Error struct {
	Kind Kind
	Msg  string
	// Code is the native status code, or 0 when the failure did not come from the OS.
	Code int
	// Limit is the clone ceiling for TooManyLinks.
	Limit int
	Err   error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrPlatform     = &Error{Kind: PlatformError}
	ErrNotFound     = &Error{Kind: NotFound}
	ErrPathNotFound = &Error{Kind: PathNotFound}
	ErrUnauthorized = &Error{Kind: Unauthorized}
	ErrUnsupported  = &Error{Kind: Unsupported}
	ErrTooManyLinks = &Error{Kind: TooManyLinks}
	ErrCancelled    = &Error{Kind: Cancelled}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Kind == PlatformError && e.Code != 0:
		return fmt.Sprintf("%s (native code %d)", msg, e.Code)
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels and the standard library errors callers already
// check for, such as fs.ErrNotExist.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
	}
	switch target {
	case fs.ErrNotExist:
		return e.Kind == NotFound || e.Kind == PathNotFound
	case fs.ErrPermission:
		return e.Kind == Unauthorized
	case errors.ErrUnsupported:
		return e.Kind == Unsupported
	case context.Canceled:
		return e.Kind == Cancelled
	}
	return false
}

// KindOf returns the kind of err, or PlatformError when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return PlatformError
}
