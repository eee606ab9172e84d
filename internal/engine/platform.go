package engine

import "os"

// Attributes is the source metadata the clone needs.
type Attributes struct {
	Size   int64
	Sparse bool
	Dir    bool
}

// Integrity is a file's checksum and compression metadata. Windows fills
// Algorithm and Flags from the integrity stream settings; Linux fills Flags
// with inode attribute bits and Compression with the btrfs property.
type Integrity struct {
	Algorithm   uint16
	Flags       uint32
	Compression string
}

func (i Integrity) IsDefault() bool {
	return i.Algorithm == 0 && i.Flags == 0 && i.Compression == ""
}

// Platform is the set of native calls a chunked clone is built from. Errors
// are returned raw and classified by the engine.
type Platform interface {
	// OpenSource opens path for reading while still allowing it to be deleted.
	OpenSource(path string) (*os.File, error)
	// CreateDestination creates or truncates path for exclusive writing.
	CreateDestination(path string) (*os.File, error)
	Size(file *os.File) (int64, error)
	Attributes(file *os.File) (Attributes, error)
	// SetSparse and SetIntegrity are only valid while file is empty.
	SetSparse(file *os.File) error
	Integrity(file *os.File) (Integrity, error)
	SetIntegrity(file *os.File, integrity Integrity) error
	// Truncate sets the logical size without writing data.
	Truncate(file *os.File, size int64) error
	DuplicateExtents(dst, src *os.File, chunk Chunk) error
	MaxChunkSize() int64
}

// SparsenessMatcher is implemented by platforms that can make a clone's holes
// match its source's after the fact.
type SparsenessMatcher interface {
	MatchSparseness(dst, src *os.File, size int64) error
}

// FileCloner clones a whole file in a single call, replacing dst.
type FileCloner interface {
	CloneFile(src, dst string) error
}
