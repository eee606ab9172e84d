package cowerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsSentinel(t *testing.T) {
	err := fmt.Errorf("clone failed: %w", New(NotFound, "source %s is missing", "/a"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, ErrPathNotFound)
	assert.Equal(t, NotFound, KindOf(err))
}

func TestErrorIsStandardErrors(t *testing.T) {
	testCases := []struct {
		kind   Kind
		target error
	}{
		{PathNotFound, fs.ErrNotExist},
		{Unauthorized, fs.ErrPermission},
		{Unsupported, errors.ErrUnsupported},
		{Cancelled, context.Canceled},
	}
	for i, tc := range testCases {
		assert.ErrorIs(t, New(tc.kind, "x"), tc.target, "case[%d]", i)
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "unsupported", (&Error{Kind: Unsupported}).Error())
	assert.Equal(t, "duplicate extents (native code 1117)", (&Error{Kind: PlatformError, Msg: "duplicate extents", Code: 1117}).Error())
	assert.Equal(t, "open: boom", (&Error{Kind: NotFound, Msg: "open", Err: errors.New("boom")}).Error())
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, PlatformError, KindOf(errors.New("plain")))
}

func TestClassifyPassesThrough(t *testing.T) {
	c := Classifier{MaxClonesPerFile: 10}

	assert.NoError(t, c.Classify(nil, "noop"))

	original := New(Unsupported, "volume cannot clone")
	assert.Same(t, original, c.Classify(original, "ignored"))
}

func TestClassifyContext(t *testing.T) {
	c := Classifier{}

	err := c.Classify(context.Canceled, "chunk 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)

	err = c.Classify(context.DeadlineExceeded, "chunk 3")
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestClassifyUnknownError(t *testing.T) {
	err := Classifier{}.Classify(errors.New("odd"), "query volume")

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, PlatformError, e.Kind)
	assert.Equal(t, "query volume: odd", e.Error())

	wrapped := Classifier{}.Classify(fmt.Errorf("read header: %w", io.ErrUnexpectedEOF), "open source")
	assert.Equal(t, "open source: read header: unexpected EOF", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
}
