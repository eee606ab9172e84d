package cowtree

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/gadget-inc/clonefs/internal/testutil"
	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyCloner stands in for a provider by copying bytes.
type copyCloner struct {
	mu      sync.Mutex
	flags   []cow.Flags
	corrupt string
	fail    error
}

func (c *copyCloner) Clone(ctx context.Context, source, destination string, flags cow.Flags) error {
	c.mu.Lock()
	c.flags = append(c.flags, flags)
	c.mu.Unlock()

	if c.fail != nil {
		return c.fail
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	if err != nil {
		return err
	}

	if filepath.Base(source) == c.corrupt {
		_, err = out.Write([]byte{0})
	}
	return err
}

func writeTree(t *testing.T, root string) map[string][]byte {
	contents := map[string][]byte{}
	for _, name := range []string{"a.txt", "b.bin", "dir/c.txt", "dir/nested/d.txt", "other/e.bin"} {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		contents[name] = testutil.WriteRandomFile(t, path, int64(100+len(name)*37))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	return contents
}

func TestCloneTree(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	src := tc.Path("src")
	dst := tc.Path("dst")
	contents := writeTree(t, src)

	cloner := &copyCloner{}
	summary, err := Clone(tc.Context(), cloner, src, dst, Options{Workers: 4, Verify: true, Flags: cow.SkipIntegrityCheck})
	require.NoError(t, err)

	var total int64
	for name, data := range contents {
		testutil.AssertFileContent(t, filepath.Join(dst, filepath.FromSlash(name)), data)
		total += int64(len(data))
	}

	assert.Equal(t, int64(len(contents)), summary.Files)
	assert.Equal(t, total, summary.Bytes)
	assert.Equal(t, int64(4), summary.Dirs, "dir, dir/nested, other and empty")
	assert.Zero(t, summary.Skipped)
	assert.DirExists(t, filepath.Join(dst, "empty"))

	for _, flags := range cloner.flags {
		assert.True(t, flags.Has(cow.SkipIntegrityCheck))
		assert.True(t, flags.Has(cow.PathAlreadyResolved))
	}
}

func TestCloneTreeSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}

	tc := testutil.NewTestCtx(t)
	src := tc.Path("src")
	dst := tc.Path("dst")
	writeTree(t, src)
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	// an existing entry at the link's path is replaced
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "link"), []byte("stale"), 0o644))

	summary, err := Clone(tc.Context(), &copyCloner{}, src, dst, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Symlinks)

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", target)
}

func TestCloneTreeInclude(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	src := tc.Path("src")
	dst := tc.Path("dst")
	writeTree(t, src)

	summary, err := Clone(tc.Context(), &copyCloner{}, src, dst, Options{Include: []string{"*.txt", "dir/**"}})
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Files)
	assert.Equal(t, int64(2), summary.Skipped)
	assert.FileExists(t, filepath.Join(dst, "a.txt"))
	assert.FileExists(t, filepath.Join(dst, "dir", "nested", "d.txt"))
	assert.NoFileExists(t, filepath.Join(dst, "b.bin"))
	assert.NoFileExists(t, filepath.Join(dst, "other", "e.bin"))
}

func TestCloneTreeInvalidInclude(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	writeTree(t, tc.Path("src"))

	_, err := Clone(tc.Context(), &copyCloner{}, tc.Path("src"), tc.Path("dst"), Options{Include: []string{"[a"}})
	assert.Error(t, err)
}

func TestCloneTreeVerifyMismatch(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	src := tc.Path("src")
	writeTree(t, src)

	_, err := Clone(tc.Context(), &copyCloner{corrupt: "c.txt"}, src, tc.Path("dst"), Options{Verify: true})
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestCloneTreeStopsOnFailure(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	src := tc.Path("src")
	writeTree(t, src)

	failure := errors.New("clone failed")
	summary, err := Clone(tc.Context(), &copyCloner{fail: failure}, src, tc.Path("dst"), Options{Workers: 1})
	assert.ErrorIs(t, err, failure)
	assert.Zero(t, summary.Files)
}

func TestCloneTreeRejectsNesting(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	src := tc.Path("src")
	writeTree(t, src)

	_, err := Clone(tc.Context(), &copyCloner{}, src, filepath.Join(src, "inner"), Options{})
	assert.Error(t, err)

	_, err = Clone(tc.Context(), &copyCloner{}, src, src, Options{})
	assert.Error(t, err)
}

func TestCloneTreeSourceMustBeDirectory(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	testutil.WriteRandomFile(t, tc.Path("file"), 10)

	_, err := Clone(tc.Context(), &copyCloner{}, tc.Path("file"), tc.Path("dst"), Options{})
	assert.Error(t, err)

	_, err = Clone(tc.Context(), &copyCloner{}, tc.Path("missing"), tc.Path("dst"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCloneTreeCancelled(t *testing.T) {
	tc := testutil.NewTestCtx(t)
	src := tc.Path("src")
	writeTree(t, src)

	ctx, cancel := context.WithCancel(tc.Context())
	cancel()

	_, err := Clone(ctx, &copyCloner{}, src, tc.Path("dst"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkCloneTree(b *testing.B) {
	src := filepath.Join(b.TempDir(), "src")
	for i := 0; i < 200; i++ {
		path := filepath.Join(src, fmt.Sprintf("d%d", i%10), fmt.Sprintf("f%d", i))
		require.NoError(b, os.MkdirAll(filepath.Dir(path), 0o755))

		data := make([]byte, 4096)
		_, err := rand.Read(data)
		require.NoError(b, err)
		require.NoError(b, os.WriteFile(path, data, 0o644))
	}
	dst := b.TempDir()

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		_, err := Clone(context.Background(), &copyCloner{}, src, filepath.Join(dst, strconv.Itoa(n)), Options{Verify: true})
		if err != nil {
			b.Fatal(err)
		}
	}
}
