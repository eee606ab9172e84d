package native

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/gadget-inc/clonefs/internal/engine"
	"golang.org/x/sys/windows"
)

const (
	fsctlSetSparse               = 0x000900C4
	fsctlGetIntegrityInformation = 0x0009027C
	fsctlSetIntegrityInformation = 0x0009C280
	fsctlDuplicateExtentsToFile  = 0x00098344

	fileEndOfFileInfo = 6

	// refsMaxClonesPerFile is the ReFS reference ceiling per block.
	refsMaxClonesPerFile = 8175
)

var (
	modkernel32           = windows.NewLazySystemDLL("kernel32.dll")
	procGetFileSizeEx     = modkernel32.NewProc("GetFileSizeEx")
	procGetDiskFreeSpaceW = modkernel32.NewProc("GetDiskFreeSpaceW")
)

type duplicateExtentsData struct {
	FileHandle       windows.Handle
	SourceFileOffset int64
	TargetFileOffset int64
	ByteCount        int64
}

type getIntegrityInformationBuffer struct {
	ChecksumAlgorithm        uint16
	Reserved                 uint16
	Flags                    uint32
	ChecksumChunkSizeInBytes uint32
	ClusterSizeInBytes       uint32
}

type setIntegrityInformationBuffer struct {
	ChecksumAlgorithm uint16
	Reserved          uint16
	Flags             uint32
}

type fileSetSparseBuffer struct {
	SetSparse bool
}

func probe() Backend {
	return Backend{
		Name:               "refs",
		Platform:           refsPlatform{},
		Volumes:            windowsVolumes{},
		FoldCase:           true,
		MaxClonesPerFile:   refsMaxClonesPerFile,
		SerializeByDefault: true,
	}
}

type refsPlatform struct{}

func handle(file *os.File) windows.Handle {
	return windows.Handle(file.Fd())
}

func openFile(path string, access, share, disposition uint32) (*os.File, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(name, access, share, nil, disposition, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(h), path), nil
}

// OpenSource lets other readers in and lets the source be deleted while the
// clone runs.
func (refsPlatform) OpenSource(path string) (*os.File, error) {
	return openFile(path, windows.GENERIC_READ, windows.FILE_SHARE_READ|windows.FILE_SHARE_DELETE, windows.OPEN_EXISTING)
}

func (refsPlatform) CreateDestination(path string) (*os.File, error) {
	return openFile(path, windows.GENERIC_READ|windows.GENERIC_WRITE, windows.FILE_SHARE_DELETE, windows.CREATE_ALWAYS)
}

func (refsPlatform) Size(file *os.File) (int64, error) {
	var size int64
	r1, _, err := procGetFileSizeEx.Call(uintptr(handle(file)), uintptr(unsafe.Pointer(&size)))
	if r1 == 0 {
		return 0, &os.PathError{Op: "GetFileSizeEx", Path: file.Name(), Err: err}
	}
	return size, nil
}

func (refsPlatform) Attributes(file *os.File) (engine.Attributes, error) {
	var info windows.ByHandleFileInformation
	err := windows.GetFileInformationByHandle(handle(file), &info)
	if err != nil {
		return engine.Attributes{}, &os.PathError{Op: "GetFileInformationByHandle", Path: file.Name(), Err: err}
	}

	return engine.Attributes{
		Size:   int64(info.FileSizeHigh)<<32 | int64(info.FileSizeLow),
		Sparse: info.FileAttributes&windows.FILE_ATTRIBUTE_SPARSE_FILE != 0,
		Dir:    info.FileAttributes&windows.FILE_ATTRIBUTE_DIRECTORY != 0,
	}, nil
}

func (refsPlatform) SetSparse(file *os.File) error {
	return setSparse(file, true)
}

func setSparse(file *os.File, sparse bool) error {
	in := fileSetSparseBuffer{SetSparse: sparse}
	var returned uint32
	err := windows.DeviceIoControl(handle(file), fsctlSetSparse,
		(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)), nil, 0, &returned, nil)
	if err != nil {
		return &os.PathError{Op: "FSCTL_SET_SPARSE", Path: file.Name(), Err: err}
	}
	return nil
}

func (refsPlatform) Integrity(file *os.File) (engine.Integrity, error) {
	var out getIntegrityInformationBuffer
	var returned uint32
	err := windows.DeviceIoControl(handle(file), fsctlGetIntegrityInformation,
		nil, 0, (*byte)(unsafe.Pointer(&out)), uint32(unsafe.Sizeof(out)), &returned, nil)
	if err != nil {
		return engine.Integrity{}, &os.PathError{Op: "FSCTL_GET_INTEGRITY_INFORMATION", Path: file.Name(), Err: err}
	}
	return engine.Integrity{Algorithm: out.ChecksumAlgorithm, Flags: out.Flags}, nil
}

func (refsPlatform) SetIntegrity(file *os.File, integrity engine.Integrity) error {
	in := setIntegrityInformationBuffer{
		ChecksumAlgorithm: integrity.Algorithm,
		Flags:             integrity.Flags,
	}
	var returned uint32
	err := windows.DeviceIoControl(handle(file), fsctlSetIntegrityInformation,
		(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)), nil, 0, &returned, nil)
	if err != nil {
		return &os.PathError{Op: "FSCTL_SET_INTEGRITY_INFORMATION", Path: file.Name(), Err: err}
	}
	return nil
}

// Truncate moves end of file without writing; the clone supplies the data.
func (refsPlatform) Truncate(file *os.File, size int64) error {
	info := size
	err := windows.SetFileInformationByHandle(handle(file), fileEndOfFileInfo,
		(*byte)(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info)))
	if err != nil {
		return &os.PathError{Op: "SetFileInformationByHandle", Path: file.Name(), Err: err}
	}
	return nil
}

func (refsPlatform) DuplicateExtents(dst, src *os.File, chunk engine.Chunk) error {
	in := duplicateExtentsData{
		FileHandle:       handle(src),
		SourceFileOffset: chunk.SourceOffset,
		TargetFileOffset: chunk.DestinationOffset,
		ByteCount:        chunk.Length,
	}
	var returned uint32
	err := windows.DeviceIoControl(handle(dst), fsctlDuplicateExtentsToFile,
		(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)), nil, 0, &returned, nil)
	if err != nil {
		return &os.LinkError{Op: "FSCTL_DUPLICATE_EXTENTS_TO_FILE", Old: src.Name(), New: dst.Name(), Err: err}
	}
	return nil
}

func (refsPlatform) MaxChunkSize() int64 {
	return engine.MaxChunkSize
}

// MatchSparseness makes the destination's sparse attribute agree with the
// source's. ReFS may leave a clone sparse when its source is not.
func (p refsPlatform) MatchSparseness(dst, src *os.File, size int64) error {
	srcAttrs, err := p.Attributes(src)
	if err != nil {
		return err
	}
	dstAttrs, err := p.Attributes(dst)
	if err != nil {
		return err
	}
	if srcAttrs.Sparse == dstAttrs.Sparse {
		return nil
	}
	return setSparse(dst, srcAttrs.Sparse)
}

func getDiskFreeSpace(root *uint16) (sectorsPerCluster, bytesPerSector uint32, err error) {
	var freeClusters, totalClusters uint32
	r1, _, e1 := procGetDiskFreeSpaceW.Call(
		uintptr(unsafe.Pointer(root)),
		uintptr(unsafe.Pointer(&sectorsPerCluster)),
		uintptr(unsafe.Pointer(&bytesPerSector)),
		uintptr(unsafe.Pointer(&freeClusters)),
		uintptr(unsafe.Pointer(&totalClusters)),
	)
	if r1 == 0 {
		if errno, ok := e1.(syscall.Errno); ok && errno != 0 {
			return 0, 0, errno
		}
		return 0, 0, syscall.EINVAL
	}
	return sectorsPerCluster, bytesPerSector, nil
}
