// Package engine performs a single clone once the caller has established that
// both paths live on the same clone-capable volume.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gadget-inc/clonefs/internal/cowerr"
	"github.com/gadget-inc/clonefs/internal/key"
	"github.com/gadget-inc/clonefs/internal/logger"
)

// Request is one clone. ClusterSize is the volume's allocation unit.
type Request struct {
	Source      string
	Destination string
	Flags       Flags
	ClusterSize int64
}

// Engine clones files. On failure the destination is left in place with
// undefined contents.
type Engine interface {
	Clone(ctx context.Context, req Request) error
}

// Observer receives per-chunk progress.
type Observer interface {
	ObserveChunk(length int64)
}

type Option func(*options)

type options struct {
	observer Observer
}

func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// Chunked clones by duplicating cluster-aligned extents in bounded chunks.
type Chunked struct {
	platform   Platform
	classifier cowerr.Classifier
	observer   Observer
}

func NewChunked(platform Platform, classifier cowerr.Classifier, opts ...Option) *Chunked {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Chunked{platform: platform, classifier: classifier, observer: o.observer}
}

func (e *Chunked) Clone(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return e.classifier.Classify(err, "clone cancelled")
	}

	start := time.Now()

	src, err := e.platform.OpenSource(req.Source)
	if err != nil {
		return sourceError(e.classifier, err, req.Source)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return e.classifier.Classify(err, fmt.Sprintf("cannot stat source file %v", req.Source))
	}
	if err := refuseSelfClone(srcInfo, req.Source, req.Destination); err != nil {
		return err
	}

	dst, err := e.platform.CreateDestination(req.Destination)
	if err != nil {
		return e.classifier.ClassifyPath(err, req.Destination, fmt.Sprintf("cannot create destination file %v", req.Destination))
	}
	defer dst.Close()

	var length int64
	if req.Flags.Has(SkipSparseCheck) {
		length, err = e.platform.Size(src)
		if err != nil {
			return e.classifier.Classify(err, fmt.Sprintf("cannot get size of source file %v", req.Source))
		}
	} else {
		attrs, err := e.platform.Attributes(src)
		if err != nil {
			return e.classifier.Classify(err, fmt.Sprintf("cannot get attributes of source file %v", req.Source))
		}
		if attrs.Dir {
			return cowerr.New(cowerr.Unauthorized, "source %v is a directory", req.Source)
		}
		length = attrs.Size

		if attrs.Sparse {
			err = e.platform.SetSparse(dst)
			if err != nil {
				return e.classifier.Classify(err, fmt.Sprintf("cannot mark destination file %v sparse", req.Destination))
			}
		}
	}

	if !req.Flags.Has(SkipIntegrityCheck) {
		integrity, err := e.platform.Integrity(src)
		if err != nil {
			return e.classifier.Classify(err, fmt.Sprintf("cannot get integrity information of source file %v", req.Source))
		}
		if !integrity.IsDefault() {
			err = e.platform.SetIntegrity(dst, integrity)
			if err != nil {
				return e.classifier.Classify(err, fmt.Sprintf("cannot set integrity information on destination file %v", req.Destination))
			}
		}
	}

	err = e.platform.Truncate(dst, length)
	if err != nil {
		return e.classifier.Classify(err, fmt.Sprintf("cannot set size of destination file %v", req.Destination))
	}

	chunks, err := Plan(length, req.ClusterSize, e.platform.MaxChunkSize())
	if err != nil {
		return cowerr.New(cowerr.PlatformError, "cannot plan clone of %v: %v", req.Source, err)
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return e.classifier.Classify(err, fmt.Sprintf("clone of %v to %v cancelled at offset %d", req.Source, req.Destination, chunk.SourceOffset))
		}

		err = e.platform.DuplicateExtents(dst, src, chunk)
		if err != nil {
			logger.Debug(ctx, "duplicate extents failed",
				key.Source.Field(req.Source),
				key.Destination.Field(req.Destination),
				key.ChunkOffset.Field(chunk.SourceOffset),
				key.ChunkLength.Field(chunk.Length),
			)
			return e.classifier.Classify(err, fmt.Sprintf("cannot clone %v to %v at offset %d", req.Source, req.Destination, chunk.SourceOffset))
		}

		if e.observer != nil {
			e.observer.ObserveChunk(chunk.Length)
		}
	}

	if req.Flags.Has(MatchSourceSparseness) {
		if matcher, ok := e.platform.(SparsenessMatcher); ok {
			err = matcher.MatchSparseness(dst, src, length)
			if err != nil {
				return e.classifier.Classify(err, fmt.Sprintf("cannot match sparseness of %v on %v", req.Source, req.Destination))
			}
		}
	}

	logger.Debug(ctx, "cloned file",
		key.Source.Field(req.Source),
		key.Destination.Field(req.Destination),
		key.Length.Field(length),
		key.ChunkCount.Field(len(chunks)),
		key.DurationMS.Field(time.Since(start)),
	)

	return nil
}

// Whole clones with a single native call that copies data and metadata
// together, so flags other than those handled by the caller have no effect.
type Whole struct {
	cloner     FileCloner
	classifier cowerr.Classifier
}

func NewWhole(cloner FileCloner, classifier cowerr.Classifier) *Whole {
	return &Whole{cloner: cloner, classifier: classifier}
}

func (e *Whole) Clone(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return e.classifier.Classify(err, "clone cancelled")
	}

	if srcInfo, statErr := os.Stat(req.Source); statErr == nil {
		if err := refuseSelfClone(srcInfo, req.Source, req.Destination); err != nil {
			return err
		}
	}

	err := e.cloner.CloneFile(req.Source, req.Destination)
	if err != nil {
		classified := sourceError(e.classifier, err, req.Source)

		var ce *cowerr.Error
		if errors.As(classified, &ce) && ce.Kind == cowerr.NotFound {
			if _, statErr := os.Stat(filepath.Dir(req.Destination)); os.IsNotExist(statErr) {
				ce.Kind = cowerr.PathNotFound
			}
		}
		return classified
	}

	logger.Debug(ctx, "cloned file",
		key.Source.Field(req.Source),
		key.Destination.Field(req.Destination),
	)
	return nil
}

// refuseSelfClone fails when destination already names the source, by the
// same path or through a hard link. Opening it for writing would truncate the
// source.
func refuseSelfClone(srcInfo os.FileInfo, source, destination string) error {
	dstInfo, err := os.Stat(destination)
	if err != nil || !os.SameFile(srcInfo, dstInfo) {
		return nil
	}
	return cowerr.New(cowerr.Unauthorized, "cannot clone %v onto itself at %v", source, destination)
}

// sourceError classifies a failure to open the source. Some platforms report a
// directory source as a missing path; that is an Unauthorized argument.
func sourceError(classifier cowerr.Classifier, err error, source string) error {
	classified := classifier.ClassifyPath(err, source, fmt.Sprintf("cannot open source file %v", source))

	var e *cowerr.Error
	if errors.As(classified, &e) && (e.Kind == cowerr.NotFound || e.Kind == cowerr.PathNotFound) {
		if info, statErr := os.Stat(source); statErr == nil && info.IsDir() {
			e.Kind = cowerr.Unauthorized
		}
	}
	return classified
}
