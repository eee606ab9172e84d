package native

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/gadget-inc/clonefs/internal/volume"
	"golang.org/x/sys/windows"
)

const (
	fileSupportsBlockRefcounting = 0x08000000

	errorUnrecognizedVolume syscall.Errno = 1005
	fveLockedVolume         syscall.Errno = 0x80310000
)

// windowsVolumes enumerates volume GUID paths and the drive letters and
// folders each is mounted at. SUBST drives are added to the volume they point
// into.
type windowsVolumes struct{}

func (windowsVolumes) Mounts(ctx context.Context) ([]volume.Mount, error) {
	var mounts []volume.Mount

	buf := make([]uint16, windows.MAX_PATH+1)
	find, err := windows.FindFirstVolume(&buf[0], uint32(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("FindFirstVolume: %w", err)
	}
	defer windows.FindVolumeClose(find)

	for {
		name := windows.UTF16ToString(buf)
		paths, err := volumePaths(name)
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			mounts = append(mounts, volume.Mount{ID: name, Paths: paths})
		}

		err = windows.FindNextVolume(find, &buf[0], uint32(len(buf)))
		if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FindNextVolume: %w", err)
		}
	}

	addSubstDrives(mounts)
	return mounts, nil
}

func volumePaths(name string) ([]string, error) {
	vname, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	size := uint32(windows.MAX_PATH + 1)
	for {
		buf := make([]uint16, size)
		err = windows.GetVolumePathNamesForVolumeName(vname, &buf[0], size, &size)
		if errors.Is(err, windows.ERROR_MORE_DATA) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("GetVolumePathNamesForVolumeName %v: %w", name, err)
		}
		return splitMultiSz(buf), nil
	}
}

func splitMultiSz(buf []uint16) []string {
	var out []string
	for len(buf) > 0 && buf[0] != 0 {
		end := 0
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		out = append(out, windows.UTF16ToString(buf[:end]))
		if end == len(buf) {
			break
		}
		buf = buf[end+1:]
	}
	return out
}

// addSubstDrives appends each SUBST drive root to the volume holding its
// target, so paths through the alias resolve to the real volume.
func addSubstDrives(mounts []volume.Mount) {
	drives, err := windows.GetLogicalDrives()
	if err != nil {
		return
	}

	buf := make([]uint16, windows.MAX_PATH+1)
	for letter := 'A'; letter <= 'Z'; letter++ {
		if drives&(1<<uint(letter-'A')) == 0 {
			continue
		}

		device := string(letter) + ":"
		dev, err := windows.UTF16PtrFromString(device)
		if err != nil {
			continue
		}
		n, err := windows.QueryDosDevice(dev, &buf[0], uint32(len(buf)))
		if err != nil || n == 0 {
			continue
		}

		target := windows.UTF16ToString(buf[:n])
		if !strings.HasPrefix(target, `\??\`) {
			continue
		}
		target = strings.TrimPrefix(target, `\??\`)

		if idx := owningMount(mounts, target); idx >= 0 {
			mounts[idx].Paths = append(mounts[idx].Paths, device+`\`)
		}
	}
}

func owningMount(mounts []volume.Mount, path string) int {
	best, bestLen := -1, 0
	for idx, m := range mounts {
		for _, p := range m.Paths {
			if len(p) > bestLen && volume.IsSubpath(p, path, true) {
				best, bestLen = idx, len(p)
			}
		}
	}
	return best
}

func (windowsVolumes) Query(ctx context.Context, m volume.Mount) (volume.Info, error) {
	root, err := windows.UTF16PtrFromString(m.Paths[0])
	if err != nil {
		return volume.Info{}, err
	}

	var flags uint32
	fsName := make([]uint16, windows.MAX_PATH+1)
	err = windows.GetVolumeInformation(root, nil, 0, nil, nil, &flags, &fsName[0], uint32(len(fsName)))
	if err != nil {
		return volume.Info{}, queryError("GetVolumeInformation", m, err)
	}

	info := volume.Info{
		FSType:      windows.UTF16ToString(fsName),
		SupportsCoW: flags&fileSupportsBlockRefcounting != 0,
	}
	if !info.SupportsCoW {
		return info, nil
	}

	sectorsPerCluster, bytesPerSector, err := getDiskFreeSpace(root)
	if err != nil {
		return volume.Info{}, queryError("GetDiskFreeSpace", m, err)
	}
	info.ClusterSize = int64(sectorsPerCluster) * int64(bytesPerSector)
	return info, nil
}

// queryError marks locked, absent and not-ready volumes as unavailable.
func queryError(op string, m volume.Mount, err error) error {
	switch {
	case errors.Is(err, errorUnrecognizedVolume),
		errors.Is(err, windows.ERROR_NOT_READY),
		errors.Is(err, windows.ERROR_INVALID_PARAMETER),
		errors.Is(err, fveLockedVolume),
		errors.Is(err, windows.ERROR_ACCESS_DENIED),
		errors.Is(err, windows.ERROR_FILE_NOT_FOUND):
		return fmt.Errorf("%w: %v %v: %w", volume.ErrUnavailable, op, m.Paths[0], err)
	default:
		return fmt.Errorf("%v %v: %w", op, m.Paths[0], err)
	}
}
