package lockset_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gadget-inc/clonefs/internal/lockset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessLocker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var locker lockset.Locker = lockset.NewInProcess()

	g, err := locker.Acquire(ctx, "clone")
	require.NoError(t, err)

	shortCtx, shortCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer shortCancel()
	_, err = locker.Acquire(shortCtx, "clone")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, g.Release())
	require.NoError(t, g.Release())

	g, err = locker.Acquire(ctx, "clone")
	require.NoError(t, err)
	require.NoError(t, g.Release())
}

func TestFileLockerAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir := filepath.Join(t.TempDir(), "locks")

	// Two lockers stand in for two processes: each opens its own lock file
	// description, so the OS lock is what keeps them apart.
	first, err := lockset.NewFileLocker(dir)
	require.NoError(t, err)
	second, err := lockset.NewFileLocker(dir)
	require.NoError(t, err)

	assert.Equal(t, first.Path("clone"), second.Path("clone"))
	assert.NotEqual(t, first.Path("clone"), first.Path("volume-1"))

	g, err := first.Acquire(ctx, "clone")
	require.NoError(t, err)

	_, err = os.Stat(first.Path("clone"))
	require.NoError(t, err)

	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer shortCancel()
	_, err = second.Acquire(shortCtx, "clone")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := second.Acquire(ctx, "volume-1")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	done := make(chan lockset.Guard)
	go func() {
		g2, err := second.Acquire(ctx, "clone")
		assert.NoError(t, err)
		done <- g2
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.Release())

	select {
	case g2 := <-done:
		require.NotNil(t, g2)
		require.NoError(t, g2.Release())
	case <-ctx.Done():
		t.Fatal("second locker never acquired the released lock")
	}
}
