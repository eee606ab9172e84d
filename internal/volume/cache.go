package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/gadget-inc/clonefs/internal/key"
	"github.com/gadget-inc/clonefs/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultQueryWorkers = 8
	memoMaxCost         = 1 << 20
)

// Cache holds the current Snapshot and rebuilds it on demand.
type Cache struct {
	source    Source
	fold      bool
	workers   int
	onRebuild func(*Snapshot)

	memo       *ristretto.Cache
	generation atomic.Uint64
	current    atomic.Pointer[Snapshot]

	// rebuilds are serialized; lookups never wait on this
	mu sync.Mutex
}

type Option func(*Cache)

// WithFoldCase makes lookups ignore case.
func WithFoldCase(fold bool) Option {
	return func(c *Cache) {
		c.fold = fold
	}
}

// WithQueryWorkers bounds how many volumes are queried at once.
func WithQueryWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRebuildHook registers fn to run after every successful rebuild.
func WithRebuildHook(fn func(*Snapshot)) Option {
	return func(c *Cache) {
		c.onRebuild = fn
	}
}

// NewCache builds the first snapshot from source.
func NewCache(ctx context.Context, source Source, opts ...Option) (*Cache, error) {
	c := &Cache{
		source:  source,
		workers: DefaultQueryWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}

	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     memoMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create volume lookup memo: %w", err)
	}
	c.memo = memo

	err = c.Rebuild(ctx)
	if err != nil {
		memo.Close()
		return nil, err
	}

	return c, nil
}

// Snapshot returns the current snapshot.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Cache) Lookup(path string) (*Volume, error) {
	return c.Snapshot().Lookup(path)
}

// Rebuild enumerates the volumes again and swaps the result in. Lookups that
// already loaded the previous snapshot finish against it.
func (c *Cache) Rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()

	volumes, err := Build(ctx, c.source, c.workers)
	if err != nil {
		return err
	}

	snapshot := newSnapshot(c.generation.Add(1), volumes, c.fold, c.memo)
	c.current.Store(snapshot)

	logger.Info(ctx, "rebuilt volume cache",
		key.VolumeCount.Field(len(volumes)),
		key.DurationMS.Field(time.Since(start)),
	)

	if c.onRebuild != nil {
		c.onRebuild(snapshot)
	}
	return nil
}

func (c *Cache) Close() {
	c.memo.Close()
}

// Build enumerates and queries every volume of source. Volumes whose query
// fails with ErrUnavailable are kept with Known unset; any other failure
// aborts the build.
func Build(ctx context.Context, source Source, workers int) ([]*Volume, error) {
	mounts, err := source.Mounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate volumes: %w", err)
	}

	volumes := make([]*Volume, len(mounts))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for idx, mount := range mounts {
		idx, mount := idx, mount
		group.Go(func() error {
			v := &Volume{
				ID:     mount.ID,
				Paths:  mount.Paths,
				FSType: mount.FSType,
			}
			volumes[idx] = v

			info, err := source.Query(ctx, mount)
			if errors.Is(err, ErrUnavailable) {
				logger.Warn(ctx, "volume unavailable, clone support unknown",
					key.VolumeID.Field(mount.ID),
					key.MountPaths.Field(mount.Paths),
					zap.Error(err),
				)
				return nil
			}
			if err != nil {
				return fmt.Errorf("cannot query volume %s: %w", mount.ID, err)
			}

			if info.SupportsCoW && info.ClusterSize <= 0 {
				logger.Warn(ctx, "volume reports clone support without a cluster size",
					key.VolumeID.Field(mount.ID),
					key.ClusterSize.Field(info.ClusterSize),
				)
				return nil
			}

			if info.FSType != "" {
				v.FSType = info.FSType
			}
			v.SupportsCoW = info.SupportsCoW
			v.ClusterSize = info.ClusterSize
			v.Known = true

			logger.Debug(ctx, "queried volume",
				key.VolumeID.Field(v.ID),
				key.MountPaths.Field(v.Paths),
				key.Supported.Field(v.SupportsCoW),
				key.ClusterSize.Field(v.ClusterSize),
			)
			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		return nil, err
	}
	return volumes, nil
}
