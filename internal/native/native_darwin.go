package native

import (
	"os"

	"github.com/gadget-inc/clonefs/internal/engine"
	"golang.org/x/sys/unix"
)

func probe() Backend {
	return Backend{
		Name:   "clonefile",
		Cloner: clonefileCloner{},
		Volumes: mountSource{
			cowTypes: map[string]cloneCheck{"apfs": always},
			id: func(major, minor int, source string) string {
				return source
			},
		},
		FoldCase: true,
	}
}

type clonefileCloner struct{}

var _ engine.FileCloner = clonefileCloner{}

// CloneFile replaces dst with a clone of src. clonefile(2) refuses to
// overwrite, so an existing destination file is removed first.
func (clonefileCloner) CloneFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if srcInfo.IsDir() {
		return &os.PathError{Op: "clonefile", Path: src, Err: unix.EISDIR}
	}

	dstInfo, err := os.Lstat(dst)
	switch {
	case err == nil && dstInfo.IsDir():
		return &os.PathError{Op: "clonefile", Path: dst, Err: unix.EISDIR}
	case err == nil:
		if err := os.Remove(dst); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return err
	}

	err = unix.Clonefile(src, dst, 0)
	if err != nil {
		return &os.LinkError{Op: "clonefile", Old: src, New: dst, Err: err}
	}
	return nil
}
