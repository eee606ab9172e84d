package testutil

import "syscall"

// ErrTooManyLinks is ERROR_BLOCK_TOO_MANY_REFERENCES.
var ErrTooManyLinks error = syscall.Errno(347)
