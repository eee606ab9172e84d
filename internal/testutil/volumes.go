package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/gadget-inc/clonefs/internal/volume"
)

// FakeVolume describes one volume served by a FakeSource. Err, when set, is
// returned by Query.
type FakeVolume struct {
	ID          string
	Paths       []string
	FSType      string
	SupportsCoW bool
	ClusterSize int64
	Err         error
}

// FakeSource is an in-memory volume.Source whose volume list can be changed
// between rebuilds.
type FakeSource struct {
	mu      sync.Mutex
	volumes []FakeVolume
	queries int
	err     error
}

func NewFakeSource(volumes ...FakeVolume) *FakeSource {
	return &FakeSource{volumes: volumes}
}

// Mount adds a volume, as if it was just mounted.
func (fs *FakeSource) Mount(v FakeVolume) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.volumes = append(fs.volumes, v)
}

// FailMounts makes the next enumerations fail with err, or succeed again when
// err is nil.
func (fs *FakeSource) FailMounts(err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.err = err
}

func (fs *FakeSource) Queries() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.queries
}

func (fs *FakeSource) Mounts(ctx context.Context) ([]volume.Mount, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.err != nil {
		return nil, fs.err
	}

	mounts := make([]volume.Mount, 0, len(fs.volumes))
	for _, v := range fs.volumes {
		mounts = append(mounts, volume.Mount{ID: v.ID, Paths: v.Paths, FSType: v.FSType})
	}
	return mounts, nil
}

func (fs *FakeSource) Query(ctx context.Context, m volume.Mount) (volume.Info, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.queries++
	for _, v := range fs.volumes {
		if v.ID != m.ID {
			continue
		}
		if v.Err != nil {
			return volume.Info{}, v.Err
		}
		return volume.Info{FSType: v.FSType, SupportsCoW: v.SupportsCoW, ClusterSize: v.ClusterSize}, nil
	}
	return volume.Info{}, fmt.Errorf("volume %s: %w", m.ID, volume.ErrUnavailable)
}
