//go:build windows

package cowerr

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/windows"
)

func TestClassifyWin32(t *testing.T) {
	c := Classifier{MaxClonesPerFile: 8175}

	testCases := []struct {
		errno syscall.Errno
		kind  Kind
	}{
		{windows.ERROR_FILE_NOT_FOUND, NotFound},
		{windows.ERROR_PATH_NOT_FOUND, PathNotFound},
		{windows.ERROR_ACCESS_DENIED, Unauthorized},
		{windows.ERROR_INVALID_HANDLE, Unauthorized},
		{errorBlockTooManyReferences, TooManyLinks},
		{windows.ERROR_INVALID_FUNCTION, Unsupported},
		{windows.ERROR_DISK_FULL, PlatformError},
	}
	for i, tc := range testCases {
		assert.Equal(t, tc.kind, KindOf(c.Classify(tc.errno, "clone")), "case[%d]", i)
	}
}
