//go:build !windows

package testutil

import "golang.org/x/sys/unix"

// ErrTooManyLinks is the native error for a source past its clone ceiling.
var ErrTooManyLinks error = unix.EMLINK
