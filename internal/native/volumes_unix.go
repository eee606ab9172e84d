//go:build linux || darwin

package native

import (
	"context"
	"errors"
	"fmt"

	"github.com/gadget-inc/clonefs/internal/volume"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// cloneCheck reports whether the filesystem mounted at dir accepts clones. An
// error means the answer is unknown.
type cloneCheck func(dir string) (bool, error)

func always(string) (bool, error) {
	return true, nil
}

// mountSource enumerates volumes from the mount table. Every mount of the
// same device is an alias of one volume.
type mountSource struct {
	cowTypes map[string]cloneCheck
	id       func(major, minor int, source string) string
}

func (s mountSource) Mounts(ctx context.Context) ([]volume.Mount, error) {
	infos, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, fmt.Errorf("cannot read mount table: %w", err)
	}
	return groupMounts(infos, s.id), nil
}

// groupMounts folds the mount table into volumes. A mountpoint mounted over
// more than once belongs to the last mount only.
func groupMounts(infos []*mountinfo.Info, id func(major, minor int, source string) string) []volume.Mount {
	owner := make(map[string]int, len(infos))
	for idx, info := range infos {
		owner[info.Mountpoint] = idx
	}

	var order []string
	byID := make(map[string]*volume.Mount)
	for idx, info := range infos {
		if owner[info.Mountpoint] != idx {
			continue
		}

		vid := id(info.Major, info.Minor, info.Source)
		m, ok := byID[vid]
		if !ok {
			m = &volume.Mount{ID: vid, FSType: info.FSType}
			byID[vid] = m
			order = append(order, vid)
		}
		m.Paths = append(m.Paths, info.Mountpoint)
	}

	mounts := make([]volume.Mount, 0, len(order))
	for _, vid := range order {
		mounts = append(mounts, *byID[vid])
	}
	return mounts
}

// Query only touches filesystems that can clone at all, so hung network
// mounts never stall a rebuild.
func (s mountSource) Query(ctx context.Context, m volume.Mount) (volume.Info, error) {
	info := volume.Info{FSType: m.FSType}
	check, ok := s.cowTypes[m.FSType]
	if !ok || len(m.Paths) == 0 {
		return info, nil
	}

	var st unix.Statfs_t
	err := unix.Statfs(m.Paths[0], &st)
	if err != nil {
		if unavailable(err) {
			return info, fmt.Errorf("%w: statfs %v: %w", volume.ErrUnavailable, m.Paths[0], err)
		}
		return info, fmt.Errorf("statfs %v: %w", m.Paths[0], err)
	}

	supported, err := checkAny(check, m.Paths)
	if err != nil {
		return info, fmt.Errorf("%w: %w", volume.ErrUnavailable, err)
	}
	if supported {
		info.SupportsCoW = true
		info.ClusterSize = int64(st.Bsize)
	}
	return info, nil
}

// checkAny runs check against each mountpoint of a volume until one of them
// gives an answer. A bind mount may be writable where the first path is not.
func checkAny(check cloneCheck, paths []string) (bool, error) {
	var errs []error
	for _, path := range paths {
		supported, err := check(path)
		if err == nil {
			return supported, nil
		}
		errs = append(errs, fmt.Errorf("checking clone support in %v: %w", path, err))
	}
	return false, errors.Join(errs...)
}

func unavailable(err error) bool {
	for _, errno := range []error{unix.EACCES, unix.EPERM, unix.ENOENT, unix.ENOTDIR, unix.ESTALE, unix.EIO, unix.ENOTCONN} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
