// Package cowtree clones a directory tree file by file through a cow.Provider.
package cowtree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gadget-inc/clonefs/internal/key"
	"github.com/gadget-inc/clonefs/internal/logger"
	"github.com/gadget-inc/clonefs/internal/telemetry"
	"github.com/gadget-inc/clonefs/internal/volume"
	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/trace"
)

// ErrMismatch is returned when verification finds a clone whose content
// differs from its source.
var ErrMismatch = errors.New("clone content does not match source")

// Cloner is the part of cow.Provider a tree clone needs.
type Cloner interface {
	Clone(ctx context.Context, source, destination string, flags cow.Flags) error
}

type Options struct {
	// Workers bounds the concurrent walkers and clones. Zero picks a default
	// based on the CPU count.
	Workers int
	// Include limits cloned files to those whose slash-separated path relative
	// to the source root matches one of these globs. Directories and symlinks
	// are always recreated.
	Include []string
	// Verify hashes every clone and its source after cloning.
	Verify bool
	// Flags are passed on every clone. PathAlreadyResolved is always added.
	Flags cow.Flags
}

type Summary struct {
	Files    int64
	Dirs     int64
	Symlinks int64
	Bytes    int64
	// Skipped counts files excluded by Include and entries that are neither
	// regular files, directories nor symlinks.
	Skipped  int64
	Duration time.Duration
}

type counters struct {
	files, dirs, symlinks, bytes, skipped atomic.Int64
}

func (c *counters) summary(start time.Time) Summary {
	return Summary{
		Files:    c.files.Load(),
		Dirs:     c.dirs.Load(),
		Symlinks: c.symlinks.Load(),
		Bytes:    c.bytes.Load(),
		Skipped:  c.skipped.Load(),
		Duration: time.Since(start),
	}
}

func compileIncludes(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func included(globs []glob.Glob, rel string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Clone recreates the tree at source under destination, cloning every
// regular file. Existing files in destination are replaced; files that only
// exist in destination are left alone. The first failure stops the walk.
func Clone(ctx context.Context, cloner Cloner, source, destination string, opts Options) (Summary, error) {
	start := time.Now()
	var counts counters

	ctx, span := telemetry.Start(ctx, "cowtree.Clone", trace.WithAttributes(
		key.Source.Attribute(source),
		key.Destination.Attribute(destination),
	))
	defer span.End()

	src, err := volume.Resolve(source)
	if err != nil {
		return Summary{}, fmt.Errorf("cannot resolve %v: %w", source, err)
	}
	dst, err := volume.Resolve(destination)
	if err != nil {
		return Summary{}, fmt.Errorf("cannot resolve %v: %w", destination, err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return Summary{}, fmt.Errorf("stat %v: %w", src, err)
	}
	if !info.IsDir() {
		return Summary{}, fmt.Errorf("%v is not a directory", src)
	}
	if volume.IsSubpath(src, dst, false) {
		return Summary{}, fmt.Errorf("cannot clone %v into itself at %v", src, dst)
	}

	globs, err := compileIncludes(opts.Include)
	if err != nil {
		return Summary{}, err
	}

	var check *verifier
	if opts.Verify {
		check, err = newVerifier(opts.Workers)
		if err != nil {
			return Summary{}, err
		}
		defer check.Close()
	}

	err = os.MkdirAll(dst, info.Mode().Perm())
	if err != nil {
		return Summary{}, fmt.Errorf("mkdir -p %v: %w", dst, err)
	}

	flags := opts.Flags | cow.PathAlreadyResolved

	conf := fastwalk.Config{Follow: false, NumWorkers: opts.Workers}
	err = fastwalk.Walk(&conf, src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %v: %w", path, err)
			}
			err = os.MkdirAll(target, info.Mode().Perm())
			if err != nil {
				return fmt.Errorf("mkdir -p %v: %w", target, err)
			}
			counts.dirs.Add(1)

		case d.Type()&fs.ModeSymlink != 0:
			err := copySymlink(path, target)
			if err != nil {
				return err
			}
			counts.symlinks.Add(1)

		case d.Type().IsRegular():
			if !included(globs, filepath.ToSlash(rel)) {
				counts.skipped.Add(1)
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %v: %w", path, err)
			}

			err = os.MkdirAll(filepath.Dir(target), 0o755)
			if err != nil {
				return fmt.Errorf("mkdir -p %v: %w", filepath.Dir(target), err)
			}

			err = cloner.Clone(ctx, path, target, flags)
			if err != nil {
				return err
			}

			if check != nil {
				err = check.Verify(ctx, path, target)
				if err != nil {
					return err
				}
			}

			counts.files.Add(1)
			counts.bytes.Add(info.Size())

		default:
			logger.Debug(ctx, "skipping special file", key.Path.Field(path))
			counts.skipped.Add(1)
		}

		return nil
	})

	summary := counts.summary(start)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}

	logger.Info(ctx, "cloned tree",
		key.Source.Field(src),
		key.Destination.Field(dst),
		key.FileCount.Field(summary.Files),
		key.BytesCloned.Field(summary.Bytes),
		key.DurationMS.Field(summary.Duration),
	)

	return summary, nil
}

func copySymlink(path, target string) error {
	link, err := os.Readlink(path)
	if err != nil {
		return fmt.Errorf("readlink %v: %w", path, err)
	}

	err = os.MkdirAll(filepath.Dir(target), 0o755)
	if err != nil {
		return fmt.Errorf("mkdir -p %v: %w", filepath.Dir(target), err)
	}

	// Remove existing link
	if _, err = os.Lstat(target); err == nil {
		err = os.Remove(target)
		if err != nil {
			return fmt.Errorf("rm %v before symlinking %v: %w", target, link, err)
		}
	}

	err = os.Symlink(link, target)
	if err != nil {
		return fmt.Errorf("ln -s %v %v: %w", link, target, err)
	}
	return nil
}
