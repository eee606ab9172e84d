package native

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
	"golang.org/x/sys/unix"
)

// xfs_fsop_geom_v1 from xfs/xfs_fs.h
type xfsGeometry struct {
	blocksize    uint32
	rtextsize    uint32
	agblocks     uint32
	agcount      uint32
	logblocks    uint32
	sectsize     uint32
	inodesize    uint32
	imaxpct      uint32
	datablocks   uint64
	rtblocks     uint64
	rtextents    uint64
	logstart     uint64
	uuid         [16]byte
	sunit        uint32
	swidth       uint32
	version      int32
	flags        uint32
	logsectsize  uint32
	rtsectsize   uint32
	dirblocksize uint32
}

const xfsGeomFlagsReflink = 0x100000

var iocXFSFSGeometryV1 = ioctl.IOR('X', 100, unsafe.Sizeof(xfsGeometry{}))

const zfsBlockCloneParameter = "/sys/module/zfs/parameters/zfs_bclone_enabled"

// linuxCoWTypes are the filesystems that may clone. Whether a given volume
// actually can depends on how it was formatted or on module parameters.
var linuxCoWTypes = map[string]cloneCheck{
	"bcachefs": cloneTest,
	"btrfs":    always,
	"ocfs2":    cloneTest,
	"xfs":      xfsReflink,
	"zfs":      zfsBlockClone,
}

// xfsReflink reads the reflink feature bit from the filesystem geometry. XFS
// formatted without it rejects every clone.
func xfsReflink(dir string) (bool, error) {
	d, err := os.OpenFile(dir, os.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return false, err
	}
	defer d.Close()

	var geo xfsGeometry
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.Fd(), iocXFSFSGeometryV1, uintptr(unsafe.Pointer(&geo)))
	switch {
	case errno == unix.ENOTTY || errno == unix.EINVAL:
		return false, nil
	case errno != 0:
		return false, &os.PathError{Op: "xfs_fsgeometry", Path: dir, Err: errno}
	}
	return geo.flags&xfsGeomFlagsReflink != 0, nil
}

// zfsBlockClone requires block cloning to be switched on for the module
// before trying a clone on the pool.
func zfsBlockClone(dir string) (bool, error) {
	enabled, err := os.ReadFile(zfsBlockCloneParameter)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(bytes.TrimSpace(enabled)) == "0" {
		return false, nil
	}
	return cloneTest(dir)
}

// cloneTest clones a scratch file inside dir and reports whether the
// filesystem accepted it.
func cloneTest(dir string) (bool, error) {
	src, err := os.CreateTemp(dir, ".clonefs-*")
	if errors.Is(err, unix.EROFS) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer os.Remove(src.Name())
	defer src.Close()

	// some filesystems refuse to clone an empty or unsynced range
	if _, err := src.Write(bytes.Repeat([]byte{0x5a}, 4096)); err != nil {
		return false, err
	}
	if err := src.Sync(); err != nil {
		return false, err
	}

	dst, err := os.CreateTemp(dir, ".clonefs-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(dst.Name())
	defer dst.Close()

	err = unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
	switch {
	case err == nil, errors.Is(err, unix.EAGAIN):
		return true, nil
	case unsupportedClone(err):
		return false, nil
	default:
		return false, fmt.Errorf("test clone in %v: %w", dir, err)
	}
}

func unsupportedClone(err error) bool {
	for _, errno := range []error{unix.EOPNOTSUPP, unix.EXDEV, unix.EINVAL, unix.ENOTTY, unix.ENOSYS} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
