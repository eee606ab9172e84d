// Package volume caches the mounted volumes of the machine and answers which
// volume, and therefore which clone capability and cluster size, a path
// lives on.
package volume

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks a volume that exists but cannot be queried right now,
// for example a locked, empty or access-restricted drive. Sources wrap it so
// the volume is recorded with an unknown capability instead of failing the
// whole build.
var ErrUnavailable = errors.New("volume unavailable")

// ErrUnknownVolume is matched by every *UnknownVolumeError.
var ErrUnknownVolume = errors.New("unknown volume")

// Volume is one mounted filesystem. It is immutable once built.
type Volume struct {
	ID string
	// Paths holds every path the volume is reachable at, aliases included.
	Paths       []string
	FSType      string
	SupportsCoW bool
	ClusterSize int64
	// Known is false when the volume was enumerated but could not be queried.
	Known bool
}

// Mount is a volume as enumerated, before its capabilities are queried.
type Mount struct {
	ID     string
	Paths  []string
	FSType string
}

// Info is what a capability query returns for a Mount.
type Info struct {
	FSType      string
	SupportsCoW bool
	ClusterSize int64
}

// Source enumerates and queries volumes for one platform.
type Source interface {
	Mounts(ctx context.Context) ([]Mount, error)
	Query(ctx context.Context, m Mount) (Info, error)
}

// UnknownVolumeError is returned by lookups that cannot give a definite answer.
type UnknownVolumeError struct {
	Path string
	// Volume is set when the path matched a volume whose capability is unknown.
	Volume *Volume
}

func (e *UnknownVolumeError) Error() string {
	if e.Volume != nil {
		return fmt.Sprintf("volume %s holding %q could not be queried, its clone support is unknown", e.Volume.ID, e.Path)
	}
	return fmt.Sprintf("no known volume for %q; if the volume was mounted recently, clear the volume cache and retry", e.Path)
}

func (e *UnknownVolumeError) Is(target error) bool {
	return target == ErrUnknownVolume
}
