package cowtree

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/jackc/puddle/v2"
	"github.com/minio/sha256-simd"
)

const verifyBufferSize = 1 << 20

// verifier hashes clone pairs with read buffers drawn from a bounded pool.
type verifier struct {
	buffers *puddle.Pool[[]byte]
}

func newVerifier(workers int) (*verifier, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	constructor := func(context.Context) ([]byte, error) {
		return make([]byte, verifyBufferSize), nil
	}

	buffers, err := puddle.NewPool(&puddle.Config[[]byte]{
		Constructor: constructor,
		Destructor:  func([]byte) {},
		MaxSize:     int32(workers),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create verification buffer pool: %w", err)
	}

	return &verifier{buffers: buffers}, nil
}

func (v *verifier) Close() {
	v.buffers.Close()
}

func (v *verifier) Verify(ctx context.Context, source, destination string) error {
	buf, err := v.buffers.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("cannot acquire verification buffer: %w", err)
	}
	defer buf.Release()

	want, err := hashFile(source, buf.Value())
	if err != nil {
		return err
	}
	got, err := hashFile(destination, buf.Value())
	if err != nil {
		return err
	}

	if !bytes.Equal(want, got) {
		return fmt.Errorf("%w: %v (%x) and %v (%x)", ErrMismatch, source, want, destination, got)
	}
	return nil
}

func hashFile(path string, buf []byte) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", path, err)
	}
	defer file.Close()

	h := sha256.New()
	_, err = io.CopyBuffer(h, file, buf)
	if err != nil {
		return nil, fmt.Errorf("hash %v: %w", path, err)
	}
	return h.Sum(nil), nil
}
