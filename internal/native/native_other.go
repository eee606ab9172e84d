//go:build !linux && !darwin && !windows

package native

import (
	"context"

	"github.com/gadget-inc/clonefs/internal/volume"
)

func probe() Backend {
	return Backend{
		Name:    "unsupported",
		Volumes: rootSource{},
	}
}

// rootSource reports a single volume without clone support, so capability
// queries answer false instead of failing.
type rootSource struct{}

func (rootSource) Mounts(ctx context.Context) ([]volume.Mount, error) {
	return []volume.Mount{{ID: "root", Paths: []string{"/"}}}, nil
}

func (rootSource) Query(ctx context.Context, m volume.Mount) (volume.Info, error) {
	return volume.Info{}, nil
}
