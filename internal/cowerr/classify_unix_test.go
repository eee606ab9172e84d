//go:build !windows

package cowerr

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestClassifyErrno(t *testing.T) {
	c := Classifier{MaxClonesPerFile: 8175}

	testCases := []struct {
		errno syscall.Errno
		kind  Kind
	}{
		{unix.ENOENT, NotFound},
		{unix.ENOTDIR, PathNotFound},
		{unix.EACCES, Unauthorized},
		{unix.EPERM, Unauthorized},
		{unix.EISDIR, Unauthorized},
		{unix.EXDEV, Unsupported},
		{unix.EOPNOTSUPP, Unsupported},
		{unix.ENOTTY, Unsupported},
		{unix.EMLINK, TooManyLinks},
		{unix.EIO, PlatformError},
	}
	for i, tc := range testCases {
		err := c.Classify(&os.PathError{Op: "open", Path: "/x", Err: tc.errno}, "clone")

		var e *Error
		require.ErrorAs(t, err, &e, "case[%d]", i)
		assert.Equal(t, tc.kind, e.Kind, "case[%d]", i)
		assert.Equal(t, int(tc.errno), e.Code, "case[%d]", i)
		assert.ErrorIs(t, err, tc.errno, "case[%d]", i)
	}
}

func TestClassifyTooManyLinksCarriesLimit(t *testing.T) {
	err := Classifier{MaxClonesPerFile: 8175}.Classify(unix.EMLINK, "duplicate extents")

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 8175, e.Limit)
	assert.Contains(t, e.Error(), "8175")
}

func TestClassifyPathRefinesMissingParent(t *testing.T) {
	dir := t.TempDir()
	c := Classifier{}

	_, err := os.Open(filepath.Join(dir, "missing"))
	assert.Equal(t, NotFound, KindOf(c.ClassifyPath(err, filepath.Join(dir, "missing"), "open source")))

	missing := filepath.Join(dir, "nodir", "missing")
	_, err = os.Open(missing)
	assert.Equal(t, PathNotFound, KindOf(c.ClassifyPath(err, missing, "open source")))
}
