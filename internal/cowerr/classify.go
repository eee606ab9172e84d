package cowerr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Classifier turns native failures into *Error values.
type Classifier struct {
	// MaxClonesPerFile is reported on TooManyLinks errors.
	MaxClonesPerFile int
}

// Classify wraps err with msg and a Kind derived from its native code. A nil
// err returns nil and an already classified err is returned unchanged.
func (c Classifier) Classify(err error, msg string) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Cancelled, Msg: msg, Err: err}
	}

	kind, code, ok := nativeKind(err)
	if !ok {
		return &Error{Kind: PlatformError, Msg: msg, Err: err}
	}

	e := &Error{Kind: kind, Msg: msg, Code: code, Err: err}
	switch kind {
	case PlatformError:
		e.Msg = fmt.Sprintf("%s: %v", msg, err)
	case TooManyLinks:
		e.Limit = c.MaxClonesPerFile
		e.Msg = fmt.Sprintf("%s: the file may have reached the maximum of %d clones per file", msg, c.MaxClonesPerFile)
	}
	return e
}

// ClassifyPath is Classify for failures naming path. Native APIs that cannot
// tell a missing file from a missing parent directory are refined here.
func (c Classifier) ClassifyPath(err error, path, msg string) error {
	var e *Error
	if err == nil || errors.As(err, &e) {
		return err
	}

	classified := c.Classify(err, msg)
	if errors.As(classified, &e) && e.Kind == NotFound {
		if _, statErr := os.Stat(filepath.Dir(path)); os.IsNotExist(statErr) {
			e.Kind = PathNotFound
		}
	}
	return classified
}
