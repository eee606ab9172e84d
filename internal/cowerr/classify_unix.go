//go:build !windows

package cowerr

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

func nativeKind(err error) (Kind, int, bool) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return PlatformError, 0, false
	}

	switch errno {
	case unix.ENOENT:
		return NotFound, int(errno), true
	case unix.ENOTDIR:
		return PathNotFound, int(errno), true
	case unix.EACCES, unix.EPERM, unix.EISDIR, unix.EBADF:
		return Unauthorized, int(errno), true
	case unix.EXDEV, unix.EOPNOTSUPP, unix.ENOTTY, unix.ENOSYS:
		return Unsupported, int(errno), true
	case unix.EMLINK:
		return TooManyLinks, int(errno), true
	default:
		return PlatformError, int(errno), true
	}
}
