package lockset

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gadget-inc/clonefs/internal/key"
	"github.com/gadget-inc/clonefs/internal/logger"
	sha256 "github.com/minio/sha256-simd"
)

const (
	initialPoll = 5 * time.Millisecond
	maxPoll     = 250 * time.Millisecond
)

// Guard is a held lock.
type Guard interface {
	ID() uint64
	Release() error
}

// Locker hands out exclusive guards by key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Guard, error)
}

type handleGuard struct {
	*Handle[string]
}

func (g handleGuard) Release() error {
	g.Handle.Release()
	return nil
}

// InProcess serializes goroutines of this process only.
type InProcess struct {
	set LockSet[string]
}

func NewInProcess() *InProcess {
	return &InProcess{}
}

func (l *InProcess) Acquire(ctx context.Context, key string) (Guard, error) {
	h, err := l.set.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return handleGuard{h}, nil
}

// FileLocker serializes across processes with an advisory lock on a file per
// key, taken after the in-process lock for the same key.
type FileLocker struct {
	dir   string
	local LockSet[string]
}

// NewFileLocker keeps its lock files in dir, creating it if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("cannot create lock dir %v: %w", dir, err)
	}
	return &FileLocker{dir: dir}, nil
}

// Path is the lock file used for key.
func (l *FileLocker) Path(lockKey string) string {
	sum := sha256.Sum256([]byte(lockKey))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:])+".lock")
}

func (l *FileLocker) Acquire(ctx context.Context, lockKey string) (Guard, error) {
	h, err := l.local.Acquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}

	path := l.Path(lockKey)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		h.Release()
		return nil, fmt.Errorf("cannot open lock file %v: %w", path, err)
	}

	wait := initialPoll
	for {
		locked, err := tryLock(file)
		if err != nil {
			file.Close()
			h.Release()
			return nil, fmt.Errorf("cannot lock %v: %w", path, err)
		}
		if locked {
			return &fileGuard{handle: h, file: file}, nil
		}

		logger.Debug(ctx, "lock file held by another process",
			key.LockKey.Field(lockKey),
			key.Path.Field(path),
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			file.Close()
			h.Release()
			return nil, ctx.Err()
		}

		wait *= 2
		if wait > maxPoll {
			wait = maxPoll
		}
	}
}

type fileGuard struct {
	handle *Handle[string]
	file   *os.File
	once   sync.Once
	err    error
}

func (g *fileGuard) ID() uint64 {
	return g.handle.ID()
}

// Release unlocks and closes the lock file. The file itself is left in place
// for the next holder.
func (g *fileGuard) Release() error {
	g.once.Do(func() {
		err := unlock(g.file)
		closeErr := g.file.Close()
		if err == nil {
			err = closeErr
		}
		g.err = err
		g.handle.Release()
	})
	return g.err
}
