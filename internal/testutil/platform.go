package testutil

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gadget-inc/clonefs/internal/engine"
)

// FakePlatform is an engine.Platform over ordinary files. DuplicateExtents
// copies bytes, so results can be compared with the source.
type FakePlatform struct {
	// MaxChunk overrides engine.MaxChunkSize when positive.
	MaxChunk int64
	// CloneLimit fails the first chunk of a clone once the source has been
	// cloned that many times.
	CloneLimit int
	// FailOnCall fails the nth DuplicateExtents call, counting from 1, with FailErr.
	FailOnCall int
	FailErr    error

	// SparseFiles and IntegrityOf describe source files by name.
	SparseFiles map[string]bool
	IntegrityOf map[string]engine.Integrity

	mu           sync.Mutex
	calls        []string
	chunks       []engine.Chunk
	clones       map[string]int
	duplicates   int
	metadataSize []int64
	matched      int
}

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		SparseFiles: make(map[string]bool),
		IntegrityOf: make(map[string]engine.Integrity),
		clones:      make(map[string]int),
	}
}

func (p *FakePlatform) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

// Calls lists the platform methods invoked so far, in order.
func (p *FakePlatform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *FakePlatform) Chunks() []engine.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Chunk(nil), p.chunks...)
}

// MetadataSizes is the destination size seen by each SetSparse and
// SetIntegrity call.
func (p *FakePlatform) MetadataSizes() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.metadataSize...)
}

func (p *FakePlatform) Matched() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.matched
}

func (p *FakePlatform) OpenSource(path string) (*os.File, error) {
	p.record("open")
	return os.Open(path)
}

func (p *FakePlatform) CreateDestination(path string) (*os.File, error) {
	p.record("create")
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
}

func (p *FakePlatform) Size(file *os.File) (int64, error) {
	p.record("size")
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (p *FakePlatform) Attributes(file *os.File) (engine.Attributes, error) {
	p.record("attributes")
	info, err := file.Stat()
	if err != nil {
		return engine.Attributes{}, err
	}
	return engine.Attributes{
		Size:   info.Size(),
		Sparse: p.SparseFiles[file.Name()],
		Dir:    info.IsDir(),
	}, nil
}

func (p *FakePlatform) recordMetadata(call string, file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	p.metadataSize = append(p.metadataSize, info.Size())
	return nil
}

func (p *FakePlatform) SetSparse(file *os.File) error {
	return p.recordMetadata("set_sparse", file)
}

func (p *FakePlatform) Integrity(file *os.File) (engine.Integrity, error) {
	p.record("integrity")
	return p.IntegrityOf[file.Name()], nil
}

func (p *FakePlatform) SetIntegrity(file *os.File, integrity engine.Integrity) error {
	return p.recordMetadata("set_integrity", file)
}

func (p *FakePlatform) Truncate(file *os.File, size int64) error {
	p.record("truncate")
	return file.Truncate(size)
}

func (p *FakePlatform) DuplicateExtents(dst, src *os.File, chunk engine.Chunk) error {
	p.mu.Lock()
	p.calls = append(p.calls, "duplicate")
	p.duplicates++
	if p.FailOnCall > 0 && p.duplicates == p.FailOnCall {
		p.mu.Unlock()
		return p.FailErr
	}
	if chunk.SourceOffset == 0 {
		if p.CloneLimit > 0 && p.clones[src.Name()] >= p.CloneLimit {
			p.mu.Unlock()
			return ErrTooManyLinks
		}
		p.clones[src.Name()]++
	}
	p.chunks = append(p.chunks, chunk)
	p.mu.Unlock()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	// Chunks may run past the end of the source up to a cluster boundary.
	n := chunk.Length
	if remaining := info.Size() - chunk.SourceOffset; n > remaining {
		n = remaining
	}
	if n <= 0 {
		return nil
	}

	buf := make([]byte, n)
	_, err = src.ReadAt(buf, chunk.SourceOffset)
	if err != nil && err != io.EOF {
		return err
	}
	_, err = dst.WriteAt(buf, chunk.DestinationOffset)
	return err
}

func (p *FakePlatform) MaxChunkSize() int64 {
	if p.MaxChunk > 0 {
		return p.MaxChunk
	}
	return engine.MaxChunkSize
}

func (p *FakePlatform) MatchSparseness(dst, src *os.File, size int64) error {
	info, err := dst.Stat()
	if err != nil {
		return err
	}
	if info.Size() != size {
		return fmt.Errorf("destination size %d does not match source size %d", info.Size(), size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "match_sparseness")
	p.matched++
	return nil
}
