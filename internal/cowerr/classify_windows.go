//go:build windows

package cowerr

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// Not exported by x/sys/windows.
const errorBlockTooManyReferences syscall.Errno = 347

func nativeKind(err error) (Kind, int, bool) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return PlatformError, 0, false
	}

	switch errno {
	case windows.ERROR_FILE_NOT_FOUND:
		return NotFound, int(errno), true
	case windows.ERROR_PATH_NOT_FOUND:
		return PathNotFound, int(errno), true
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_INVALID_HANDLE:
		return Unauthorized, int(errno), true
	case errorBlockTooManyReferences:
		return TooManyLinks, int(errno), true
	case windows.ERROR_INVALID_FUNCTION, windows.ERROR_NOT_SUPPORTED, windows.ERROR_NOT_SAME_DEVICE:
		return Unsupported, int(errno), true
	default:
		return PlatformError, int(errno), true
	}
}
