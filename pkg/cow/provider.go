// Package cow clones files by sharing their data blocks, on filesystems that
// support it.
//
// A Provider caches the volume layout of the machine. Construct one with New,
// or use Shared, and call ClearCache after volumes are mounted or removed.
package cow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gadget-inc/clonefs/internal/cowerr"
	"github.com/gadget-inc/clonefs/internal/engine"
	"github.com/gadget-inc/clonefs/internal/key"
	"github.com/gadget-inc/clonefs/internal/lockset"
	"github.com/gadget-inc/clonefs/internal/logger"
	"github.com/gadget-inc/clonefs/internal/metrics"
	"github.com/gadget-inc/clonefs/internal/native"
	"github.com/gadget-inc/clonefs/internal/telemetry"
	"github.com/gadget-inc/clonefs/internal/volume"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const globalLockKey = "clone"

// DefaultLockDir holds cross-process lock files when no directory is given.
var DefaultLockDir = filepath.Join(os.TempDir(), "clonefs-locks")

type Provider struct {
	backend    native.Backend
	cache      *volume.Cache
	engine     engine.Engine
	classifier cowerr.Classifier
	locker     lockset.Locker
	scope      SerializeScope
	metrics    *metrics.Collector
}

type options struct {
	crossProcess bool
	lockDir      string
	scope        SerializeScope
	metrics      *metrics.Collector
	queryWorkers int
	backend      *native.Backend
}

type Option func(*options)

// WithCrossProcessLocks serializes clones across processes through lock files
// in dir. An empty dir selects DefaultLockDir.
func WithCrossProcessLocks(dir string) Option {
	return func(o *options) {
		o.crossProcess = true
		o.lockDir = dir
	}
}

func WithSerializeScope(scope SerializeScope) Option {
	return func(o *options) {
		o.scope = scope
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = collector
	}
}

// WithQueryWorkers bounds the concurrent volume queries of a cache rebuild.
func WithQueryWorkers(n int) Option {
	return func(o *options) {
		o.queryWorkers = n
	}
}

func withBackend(backend native.Backend) Option {
	return func(o *options) {
		o.backend = &backend
	}
}

// New builds an independent provider, scanning the volumes of the machine.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	o := options{queryWorkers: volume.DefaultQueryWorkers}
	for _, opt := range opts {
		opt(&o)
	}

	backend := native.Probe()
	if o.backend != nil {
		backend = *o.backend
	}

	p := &Provider{
		backend: backend,
		metrics: o.metrics,
		scope:   o.scope,
	}
	p.classifier = cowerr.Classifier{MaxClonesPerFile: p.MaxClonesPerFile()}

	if p.scope == SerializeAuto {
		p.scope = SerializeNone
		if backend.SerializeByDefault {
			p.scope = SerializeGlobal
		}
	}

	switch {
	case backend.Platform != nil:
		p.engine = engine.NewChunked(backend.Platform, p.classifier, engine.WithObserver(o.metrics))
	case backend.Cloner != nil:
		p.engine = engine.NewWhole(backend.Cloner, p.classifier)
	}

	if o.crossProcess {
		dir := o.lockDir
		if dir == "" {
			dir = DefaultLockDir
		}
		locker, err := lockset.NewFileLocker(dir)
		if err != nil {
			return nil, err
		}
		p.locker = locker
	} else {
		p.locker = lockset.NewInProcess()
	}

	cache, err := volume.NewCache(ctx, backend.Volumes,
		volume.WithFoldCase(backend.FoldCase),
		volume.WithQueryWorkers(o.queryWorkers),
		volume.WithRebuildHook(func(s *volume.Snapshot) {
			p.metrics.ObserveRebuild(len(s.Volumes()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot build volume cache: %w", err)
	}
	p.cache = cache

	logger.Debug(ctx, "created clone provider",
		key.Backend.Field(backend.Name),
		key.SerializeScope.Field(p.scope.String()),
		key.CrossProcessLocks.Field(o.crossProcess),
	)

	return p, nil
}

var shared struct {
	once     sync.Once
	provider *Provider
	err      error
}

// Shared returns the process-wide provider, creating it on first use. Options
// only apply to that first call.
func Shared(ctx context.Context, opts ...Option) (*Provider, error) {
	shared.once.Do(func() {
		shared.provider, shared.err = New(ctx, opts...)
	})
	return shared.provider, shared.err
}

func (p *Provider) Close() {
	p.cache.Close()
}

// Backend names the native clone mechanism in use.
func (p *Provider) Backend() string {
	return p.backend.Name
}

func (p *Provider) SerializeScope() SerializeScope {
	return p.scope
}

// MaxClonesPerFile is the filesystem's clone ceiling for a single source, or
// Unlimited.
func (p *Provider) MaxClonesPerFile() int {
	if p.backend.MaxClonesPerFile <= 0 {
		return Unlimited
	}
	return p.backend.MaxClonesPerFile
}

// Volumes lists the volumes of the current cache snapshot.
func (p *Provider) Volumes() []Volume {
	vs := p.cache.Snapshot().Volumes()
	out := make([]Volume, 0, len(vs))
	for _, v := range vs {
		out = append(out, *v)
	}
	return out
}

func (p *Provider) resolve(path string, resolved bool) (string, error) {
	if resolved {
		return path, nil
	}
	abs, err := volume.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %v: %w", path, err)
	}
	return abs, nil
}

// SupportedBetween reports whether source can be cloned to destination: both
// must be on the same volume, and that volume must support cloning. It only
// errors when a path cannot be resolved or lies on an unknown volume.
func (p *Provider) SupportedBetween(ctx context.Context, source, destination string, alreadyResolved bool) (bool, error) {
	src, err := p.resolve(source, alreadyResolved)
	if err != nil {
		return false, err
	}
	dst, err := p.resolve(destination, alreadyResolved)
	if err != nil {
		return false, err
	}

	snapshot := p.cache.Snapshot()
	sv, err := snapshot.Lookup(src)
	if err != nil {
		return false, err
	}
	dv, err := snapshot.Lookup(dst)
	if err != nil {
		return false, err
	}

	supported := p.engine != nil && sv == dv && sv.SupportsCoW
	logger.Debug(ctx, "checked clone support",
		key.Source.Field(src),
		key.Destination.Field(dst),
		key.Supported.Field(supported),
	)
	return supported, nil
}

// SupportedInTree reports whether every file under root can be cloned to
// another path under root: root's volume and every volume mounted beneath it
// must support cloning.
func (p *Provider) SupportedInTree(ctx context.Context, root string, alreadyResolved bool) (bool, error) {
	r, err := p.resolve(root, alreadyResolved)
	if err != nil {
		return false, err
	}

	snapshot := p.cache.Snapshot()
	v, err := snapshot.Lookup(r)
	if err != nil {
		return false, err
	}
	if p.engine == nil || !v.SupportsCoW {
		return false, nil
	}

	for _, nested := range snapshot.Under(r) {
		if !nested.Known {
			return false, &volume.UnknownVolumeError{Path: nested.Paths[0], Volume: nested}
		}
		if !nested.SupportsCoW {
			return false, nil
		}
	}
	return true, nil
}

// Clone makes destination a copy-on-write clone of source, replacing any
// existing file. A failed clone leaves destination in place with undefined
// contents; clone to a temporary name and rename it if that matters.
func (p *Provider) Clone(ctx context.Context, source, destination string, flags Flags) error {
	return p.Do(ctx, Request{Source: source, Destination: destination, Flags: flags})
}

// Do is Clone taking a Request.
func (p *Provider) Do(ctx context.Context, req Request) error {
	ctx, span := telemetry.Start(ctx, "cow.Clone", trace.WithAttributes(
		key.Source.Attribute(req.Source),
		key.Destination.Attribute(req.Destination),
		key.Flags.Attribute(req.Flags.String()),
	))
	defer span.End()

	start := time.Now()
	err := p.clone(ctx, req)

	result := metrics.ResultOK
	if err != nil {
		result = cowerr.KindOf(err).String()
		span.RecordError(err)
		logger.Debug(ctx, "clone failed",
			key.Source.Field(req.Source),
			key.Destination.Field(req.Destination),
			key.ErrorKind.Field(result),
			zap.Error(err),
		)
	}
	p.metrics.ObserveClone(result, time.Since(start))

	return err
}

func (p *Provider) clone(ctx context.Context, req Request) error {
	if p.engine == nil {
		return cowerr.New(cowerr.Unsupported, "copy-on-write cloning is not supported on this platform")
	}

	resolved := req.Flags.Has(PathAlreadyResolved)
	src, err := p.resolve(req.Source, resolved)
	if err != nil {
		return &cowerr.Error{Kind: cowerr.PathNotFound, Msg: "cannot resolve source", Err: err}
	}
	dst, err := p.resolve(req.Destination, resolved)
	if err != nil {
		return &cowerr.Error{Kind: cowerr.PathNotFound, Msg: "cannot resolve destination", Err: err}
	}

	snapshot := p.cache.Snapshot()
	sv, err := snapshot.Lookup(src)
	if err != nil {
		return &cowerr.Error{Kind: cowerr.Unsupported, Msg: "cannot clone " + src, Err: err}
	}
	dv, err := snapshot.Lookup(dst)
	if err != nil {
		return &cowerr.Error{Kind: cowerr.Unsupported, Msg: "cannot clone to " + dst, Err: err}
	}

	switch {
	case sv != dv:
		return cowerr.New(cowerr.Unsupported, "cannot clone %v to %v: they are on different volumes", src, dst)
	case !sv.SupportsCoW:
		return cowerr.New(cowerr.Unsupported, "cannot clone %v: volume %v does not support copy-on-write", src, sv.ID)
	}

	guard, err := p.acquire(ctx, sv, req.Flags)
	if err != nil {
		return err
	}
	if guard != nil {
		defer func() {
			if err := guard.Release(); err != nil {
				logger.Warn(ctx, "failed to release clone lock", key.LockID.Field(guard.ID()), zap.Error(err))
			}
		}()
	}

	return p.engine.Clone(ctx, engine.Request{
		Source:      src,
		Destination: dst,
		Flags:       req.Flags,
		ClusterSize: sv.ClusterSize,
	})
}

func (p *Provider) acquire(ctx context.Context, v *volume.Volume, flags Flags) (lockset.Guard, error) {
	var lockKey string
	switch {
	case flags.Has(SkipSerialization):
		return nil, nil
	case p.scope == SerializeGlobal:
		lockKey = globalLockKey
	case p.scope == SerializeVolume:
		lockKey = "volume:" + v.ID
	default:
		return nil, nil
	}

	start := time.Now()
	guard, err := p.locker.Acquire(ctx, lockKey)
	p.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return nil, p.classifier.Classify(err, "waiting for the clone lock")
	}

	logger.Debug(ctx, "acquired clone lock",
		key.LockKey.Field(lockKey),
		key.LockID.Field(guard.ID()),
		key.DurationMS.Field(time.Since(start)),
	)
	return guard, nil
}

// ClearCache rebuilds the volume cache. Calls already in progress finish
// against the previous snapshot.
func (p *Provider) ClearCache(ctx context.Context) error {
	return telemetry.Wrap(ctx, "cow.ClearCache", func(ctx context.Context, span trace.Span) error {
		return p.cache.Rebuild(ctx)
	})
}
