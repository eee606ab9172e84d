//go:build linux || darwin

package native

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gadget-inc/clonefs/internal/volume"
	"github.com/moby/sys/mountinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func deviceID(major, minor int, source string) string {
	return fmt.Sprintf("%d:%d", major, minor)
}

func TestGroupMountsAliases(t *testing.T) {
	infos := []*mountinfo.Info{
		{Major: 8, Minor: 1, Mountpoint: "/", FSType: "ext4"},
		{Major: 0, Minor: 40, Mountpoint: "/data", FSType: "btrfs"},
		{Major: 0, Minor: 40, Mountpoint: "/srv/bind", FSType: "btrfs", Root: "/projects"},
		{Major: 0, Minor: 22, Mountpoint: "/proc", FSType: "proc"},
	}

	mounts := groupMounts(infos, deviceID)

	assert.Equal(t, []volume.Mount{
		{ID: "8:1", Paths: []string{"/"}, FSType: "ext4"},
		{ID: "0:40", Paths: []string{"/data", "/srv/bind"}, FSType: "btrfs"},
		{ID: "0:22", Paths: []string{"/proc"}, FSType: "proc"},
	}, mounts)
}

func TestGroupMountsLastMountWins(t *testing.T) {
	infos := []*mountinfo.Info{
		{Major: 8, Minor: 1, Mountpoint: "/", FSType: "ext4"},
		{Major: 8, Minor: 2, Mountpoint: "/mnt", FSType: "ext4"},
		{Major: 0, Minor: 50, Mountpoint: "/mnt", FSType: "xfs"},
	}

	mounts := groupMounts(infos, deviceID)

	assert.Equal(t, []volume.Mount{
		{ID: "8:1", Paths: []string{"/"}, FSType: "ext4"},
		{ID: "0:50", Paths: []string{"/mnt"}, FSType: "xfs"},
	}, mounts)
}

func TestQueryRunsCloneCheck(t *testing.T) {
	dir := t.TempDir()
	var checked []string

	source := mountSource{
		cowTypes: map[string]cloneCheck{
			"reflink": func(path string) (bool, error) {
				checked = append(checked, path)
				return true, nil
			},
			"noreflink": func(string) (bool, error) { return false, nil },
		},
		id: deviceID,
	}

	info, err := source.Query(context.Background(), volume.Mount{ID: "a", Paths: []string{dir}, FSType: "reflink"})
	require.NoError(t, err)
	assert.True(t, info.SupportsCoW)
	assert.Positive(t, info.ClusterSize)
	assert.Equal(t, []string{dir}, checked)

	info, err = source.Query(context.Background(), volume.Mount{ID: "b", Paths: []string{dir}, FSType: "noreflink"})
	require.NoError(t, err)
	assert.False(t, info.SupportsCoW)
	assert.Zero(t, info.ClusterSize)

	info, err = source.Query(context.Background(), volume.Mount{ID: "c", Paths: []string{dir}, FSType: "ext4"})
	require.NoError(t, err)
	assert.False(t, info.SupportsCoW)
}

func TestQueryCheckFailureLeavesVolumeUnknown(t *testing.T) {
	readOnly, writable := t.TempDir(), t.TempDir()

	source := mountSource{
		cowTypes: map[string]cloneCheck{
			"reflink": func(path string) (bool, error) {
				if path == readOnly {
					return false, unix.EACCES
				}
				return true, nil
			},
		},
		id: deviceID,
	}

	info, err := source.Query(context.Background(), volume.Mount{ID: "a", Paths: []string{readOnly, writable}, FSType: "reflink"})
	require.NoError(t, err)
	assert.True(t, info.SupportsCoW, "a later mountpoint may answer")

	_, err = source.Query(context.Background(), volume.Mount{ID: "a", Paths: []string{readOnly}, FSType: "reflink"})
	assert.ErrorIs(t, err, volume.ErrUnavailable)
	assert.True(t, errors.Is(err, unix.EACCES))
}
