package native

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
	"github.com/gadget-inc/clonefs/internal/engine"
	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
)

// from linux/fs.h
const (
	fsComprFl  = 0x00000004
	fsNocompFl = 0x00000400
	fsNocowFl  = 0x00800000

	integrityFlags = fsComprFl | fsNocompFl | fsNocowFl

	compressionXattr = "btrfs.compression"
)

type fileCloneRange struct {
	srcFd      int64
	srcOffset  uint64
	srcLength  uint64
	destOffset uint64
}

var iocFICLONERANGE = ioctl.IOW(0x94, 13, unsafe.Sizeof(fileCloneRange{}))

func probe() Backend {
	return Backend{
		Name:     "ficlonerange",
		Platform: linuxPlatform{},
		Volumes: mountSource{
			cowTypes: linuxCoWTypes,
			id: func(major, minor int, source string) string {
				return fmt.Sprintf("%d:%d", major, minor)
			},
		},
	}
}

type linuxPlatform struct{}

func (linuxPlatform) OpenSource(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, &os.PathError{Op: "open", Path: path, Err: unix.EISDIR}
	}
	return file, nil
}

func (linuxPlatform) CreateDestination(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
}

func (linuxPlatform) Size(file *os.File) (int64, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (linuxPlatform) Attributes(file *os.File) (engine.Attributes, error) {
	var st unix.Stat_t
	err := unix.Fstat(int(file.Fd()), &st)
	if err != nil {
		return engine.Attributes{}, &os.PathError{Op: "fstat", Path: file.Name(), Err: err}
	}

	return engine.Attributes{
		Size:   st.Size,
		Sparse: st.Blocks*512 < st.Size,
		Dir:    st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}, nil
}

// SetSparse does nothing: Linux files have no sparse attribute, holes are
// simply unallocated ranges and a clone carries them over.
func (linuxPlatform) SetSparse(file *os.File) error {
	return nil
}

func (linuxPlatform) Integrity(file *os.File) (engine.Integrity, error) {
	var integrity engine.Integrity

	flags, err := unix.IoctlGetUint32(int(file.Fd()), unix.FS_IOC_GETFLAGS)
	switch {
	case err == nil:
		integrity.Flags = flags & integrityFlags
	case !attributesUnsupported(err):
		return engine.Integrity{}, &os.PathError{Op: "getflags", Path: file.Name(), Err: err}
	}

	compression, err := xattr.FGet(file, compressionXattr)
	switch {
	case err == nil:
		integrity.Compression = string(compression)
	case !xattrUnset(err):
		return engine.Integrity{}, err
	}

	return integrity, nil
}

// SetIntegrity copies the copy-on-write and compression bits. btrfs refuses
// to clone between a NOCOW and a COW file, so they must match before the
// first chunk.
func (linuxPlatform) SetIntegrity(file *os.File, integrity engine.Integrity) error {
	fd := int(file.Fd())

	current, err := unix.IoctlGetUint32(fd, unix.FS_IOC_GETFLAGS)
	if err != nil && !attributesUnsupported(err) {
		return &os.PathError{Op: "getflags", Path: file.Name(), Err: err}
	}

	if err == nil {
		wanted := current&^integrityFlags | integrity.Flags&integrityFlags
		if wanted != current {
			err = unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(wanted))
			if err != nil {
				return &os.PathError{Op: "setflags", Path: file.Name(), Err: err}
			}
		}
	}

	if integrity.Compression != "" {
		err = xattr.FSet(file, compressionXattr, []byte(integrity.Compression))
		if err != nil && !xattrUnset(err) {
			return err
		}
	}
	return nil
}

func (linuxPlatform) Truncate(file *os.File, size int64) error {
	return file.Truncate(size)
}

func (linuxPlatform) DuplicateExtents(dst, src *os.File, chunk engine.Chunk) error {
	arg := fileCloneRange{
		srcFd:      int64(src.Fd()),
		srcOffset:  uint64(chunk.SourceOffset),
		srcLength:  uint64(chunk.Length),
		destOffset: uint64(chunk.DestinationOffset),
	}
	// Linux rejects ranges past the source's end; a zero length clones up to it.
	if chunk.Last {
		arg.srcLength = 0
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dst.Fd(), iocFICLONERANGE, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return &os.LinkError{Op: "ficlonerange", Old: src.Name(), New: dst.Name(), Err: errno}
	}
	return nil
}

func (linuxPlatform) MaxChunkSize() int64 {
	return engine.MaxChunkSize
}

// MatchSparseness punches holes into dst wherever src has one.
func (linuxPlatform) MatchSparseness(dst, src *os.File, size int64) error {
	srcFd := int(src.Fd())
	dstFd := int(dst.Fd())

	offset := int64(0)
	for offset < size {
		data, err := unix.Seek(srcFd, offset, unix.SEEK_DATA)
		switch {
		case errors.Is(err, unix.ENXIO):
			data = size
		case errors.Is(err, unix.EINVAL):
			// filesystem cannot report holes
			return nil
		case err != nil:
			return &os.PathError{Op: "seek", Path: src.Name(), Err: err}
		}
		if data > size {
			data = size
		}

		if data > offset {
			err = unix.Fallocate(dstFd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, data-offset)
			if err != nil {
				return &os.PathError{Op: "fallocate", Path: dst.Name(), Err: err}
			}
		}
		if data >= size {
			return nil
		}

		hole, err := unix.Seek(srcFd, data, unix.SEEK_HOLE)
		if err != nil {
			return &os.PathError{Op: "seek", Path: src.Name(), Err: err}
		}
		offset = hole
	}
	return nil
}

func attributesUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL)
}

func xattrUnset(err error) bool {
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		return xerr.Err == xattr.ENOATTR || errors.Is(xerr.Err, unix.EOPNOTSUPP)
	}
	return false
}
