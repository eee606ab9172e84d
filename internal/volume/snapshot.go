package volume

import (
	"sort"
	"strconv"

	"github.com/dgraph-io/ristretto"
)

type entry struct {
	prefix string
	volume *Volume
}

// Snapshot is an immutable view of the volumes on the machine. Readers keep
// using the snapshot they loaded even after the cache swaps in a newer one.
type Snapshot struct {
	generation uint64
	fold       bool
	volumes    []*Volume
	buckets    map[string][]entry
	memo       *ristretto.Cache
}

// NewSnapshot indexes volumes by every mount path they have. With fold set,
// matching ignores case.
func NewSnapshot(volumes []*Volume, fold bool) *Snapshot {
	return newSnapshot(0, volumes, fold, nil)
}

func newSnapshot(generation uint64, volumes []*Volume, fold bool, memo *ristretto.Cache) *Snapshot {
	s := &Snapshot{
		generation: generation,
		fold:       fold,
		volumes:    volumes,
		buckets:    make(map[string][]entry),
		memo:       memo,
	}

	for _, v := range volumes {
		for _, p := range v.Paths {
			prefix := s.normalize(normalizeMount(p))
			k := bucketKey(prefix)
			s.buckets[k] = append(s.buckets[k], entry{prefix: prefix, volume: v})
		}
	}

	// Descending order puts a longer path ahead of any path that prefixes it,
	// so the first match in a bucket is the longest one.
	for _, bucket := range s.buckets {
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].prefix > bucket[j].prefix
		})
	}

	return s
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Volumes returns the volumes in enumeration order.
func (s *Snapshot) Volumes() []*Volume {
	return s.volumes
}

// Lookup returns the volume holding path, which must already be resolved.
// Paths outside every known mount, and paths on volumes that could not be
// queried, yield an *UnknownVolumeError.
func (s *Snapshot) Lookup(path string) (*Volume, error) {
	p := s.normalize(path)

	v, ok := s.memoGet(p)
	if !ok {
		v = s.match(p)
		if v != nil {
			s.memoSet(p, v)
		}
	}

	if v == nil {
		return nil, &UnknownVolumeError{Path: path}
	}
	if !v.Known {
		return nil, &UnknownVolumeError{Path: path, Volume: v}
	}
	return v, nil
}

// Under returns the volumes mounted strictly beneath root, excluding the
// volume root itself lives on unless it is mounted again further down.
func (s *Snapshot) Under(root string) []*Volume {
	r := s.normalize(normalizeMount(root))

	seen := make(map[*Volume]struct{})
	var nested []*Volume
	for _, bucket := range s.buckets {
		for _, e := range bucket {
			if e.prefix == r || !hasPathPrefix(e.prefix, r) {
				continue
			}
			if _, ok := seen[e.volume]; ok {
				continue
			}
			seen[e.volume] = struct{}{}
			nested = append(nested, e.volume)
		}
	}

	sort.Slice(nested, func(i, j int) bool { return nested[i].ID < nested[j].ID })
	return nested
}

func (s *Snapshot) match(p string) *Volume {
	k := bucketKey(p)
	if v := s.scan(k, p); v != nil {
		return v
	}
	if k != "" {
		return s.scan("", p)
	}
	return nil
}

func (s *Snapshot) scan(bucket, p string) *Volume {
	for _, e := range s.buckets[bucket] {
		if hasPathPrefix(p, e.prefix) {
			return e.volume
		}
	}
	return nil
}

func (s *Snapshot) normalize(p string) string {
	if s.fold {
		return foldCase(p)
	}
	return p
}

func (s *Snapshot) memoKey(p string) string {
	return strconv.FormatUint(s.generation, 10) + "\x00" + p
}

func (s *Snapshot) memoGet(p string) (*Volume, bool) {
	if s.memo == nil {
		return nil, false
	}
	value, found := s.memo.Get(s.memoKey(p))
	if !found {
		return nil, false
	}
	return value.(*Volume), true
}

func (s *Snapshot) memoSet(p string, v *Volume) {
	if s.memo == nil {
		return
	}
	k := s.memoKey(p)
	s.memo.Set(k, v, int64(len(k)))
}
