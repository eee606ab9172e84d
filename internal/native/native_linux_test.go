package native

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gadget-inc/clonefs/internal/cowerr"
	"github.com/gadget-inc/clonefs/internal/engine"
	"github.com/gadget-inc/clonefs/internal/testutil"
	"github.com/gadget-inc/clonefs/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// cowDirEnv names a directory on a reflink-capable filesystem, such as a
// btrfs or xfs scratch mount, for tests that issue real clones.
const cowDirEnv = "CLONEFS_TEST_COW_DIR"

func TestFICLONERANGERequest(t *testing.T) {
	assert.Equal(t, uintptr(0x4020940d), uintptr(iocFICLONERANGE))
}

func TestProbe(t *testing.T) {
	backend := Probe()
	assert.NotNil(t, backend.Platform)
	assert.Nil(t, backend.Cloner)
	assert.False(t, backend.FoldCase)
	assert.Zero(t, backend.MaxClonesPerFile)
}

func TestMountSourceFindsRoot(t *testing.T) {
	source := Probe().Volumes

	mounts, err := source.Mounts(context.Background())
	require.NoError(t, err)

	var paths []string
	for _, m := range mounts {
		assert.NotEmpty(t, m.ID)
		assert.NotEmpty(t, m.Paths)
		paths = append(paths, m.Paths...)
	}
	assert.Contains(t, paths, "/")

	volumes, err := volume.Build(context.Background(), source, volume.DefaultQueryWorkers)
	require.NoError(t, err)

	v, err := volume.NewSnapshot(volumes, false).Lookup(t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
}

func TestOpenSourceRejectsDirectory(t *testing.T) {
	_, err := linuxPlatform{}.OpenSource(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EISDIR)
	assert.Equal(t, cowerr.Unauthorized, cowerr.KindOf(cowerr.Classifier{}.Classify(err, "open")))
}

func TestAttributesDetectSparse(t *testing.T) {
	dir := t.TempDir()
	p := linuxPlatform{}

	sparsePath := filepath.Join(dir, "sparse")
	f, err := os.Create(sparsePath)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(16<<20))
	require.NoError(t, f.Close())

	densePath := filepath.Join(dir, "dense")
	testutil.WriteRandomFile(t, densePath, 64<<10)

	f, err = os.Open(sparsePath)
	require.NoError(t, err)
	defer f.Close()

	attrs, err := p.Attributes(f)
	require.NoError(t, err)
	assert.Equal(t, int64(16<<20), attrs.Size)
	assert.True(t, attrs.Sparse)
	assert.False(t, attrs.Dir)

	d, err := os.Open(densePath)
	require.NoError(t, err)
	defer d.Close()

	attrs, err = p.Attributes(d)
	require.NoError(t, err)
	assert.False(t, attrs.Sparse)
}

func TestIntegrityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := linuxPlatform{}

	testutil.WriteRandomFile(t, filepath.Join(dir, "source"), 0)
	src, err := os.Open(filepath.Join(dir, "source"))
	require.NoError(t, err)
	defer src.Close()

	integrity, err := p.Integrity(src)
	require.NoError(t, err)

	dst, err := p.CreateDestination(filepath.Join(dir, "destination"))
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, p.SetIntegrity(dst, integrity))

	copied, err := p.Integrity(dst)
	require.NoError(t, err)
	assert.Equal(t, integrity.Flags, copied.Flags)
}

func TestMatchSparsenessPunchesHoles(t *testing.T) {
	dir := t.TempDir()
	p := linuxPlatform{}

	const size = 4 << 20
	data := make([]byte, 64<<10)
	for i := range data {
		data[i] = byte(i)
	}

	srcPath := filepath.Join(dir, "source")
	src, err := os.Create(srcPath)
	require.NoError(t, err)
	require.NoError(t, src.Truncate(size))
	_, err = src.WriteAt(data, size/2)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	expected, err := os.ReadFile(srcPath)
	require.NoError(t, err)

	dstPath := filepath.Join(dir, "destination")
	require.NoError(t, os.WriteFile(dstPath, expected, 0o644))

	src, err = os.Open(srcPath)
	require.NoError(t, err)
	defer src.Close()
	dst, err := os.OpenFile(dstPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer dst.Close()

	err = p.MatchSparseness(dst, src, size)
	if err != nil {
		t.Skipf("filesystem cannot punch holes: %v", err)
	}

	testutil.AssertFileContent(t, dstPath, expected)

	attrs, err := p.Attributes(dst)
	require.NoError(t, err)
	assert.True(t, attrs.Sparse)
}

func TestCloneOnCoWFilesystem(t *testing.T) {
	dir := os.Getenv(cowDirEnv)
	if dir == "" {
		t.Skipf("set %s to a directory on btrfs or xfs to run", cowDirEnv)
	}
	dir, err := os.MkdirTemp(dir, "clonefs-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	var st unix.Statfs_t
	require.NoError(t, unix.Statfs(dir, &st))
	cluster := int64(st.Bsize)

	tc := testutil.NewTestCtx(t)
	e := engine.NewChunked(linuxPlatform{}, cowerr.Classifier{})

	for _, size := range []int64{0, 1, cluster - 1, cluster, cluster + 1, 3*cluster + 17} {
		src := filepath.Join(dir, "source")
		data := testutil.WriteRandomFile(t, src, size)

		dst := filepath.Join(dir, "destination")
		require.NoError(t, e.Clone(tc.Context(), engine.Request{Source: src, Destination: dst, ClusterSize: cluster}), "size %d", size)
		testutil.AssertFileContent(t, dst, data)

		second := filepath.Join(dir, "second")
		require.NoError(t, e.Clone(tc.Context(), engine.Request{Source: dst, Destination: second, ClusterSize: cluster}))

		require.NoError(t, os.Remove(src))
		testutil.AssertFileContent(t, dst, data)
		testutil.AssertFileContent(t, second, data)
	}
}

func TestCoWTypesAreChecked(t *testing.T) {
	for _, fstype := range []string{"bcachefs", "btrfs", "ocfs2", "xfs", "zfs"} {
		assert.Contains(t, linuxCoWTypes, fstype)
	}
	assert.NotContains(t, linuxCoWTypes, "ext4")
}

// Whatever filesystem backs the temp dir, the checks answer without an error
// and clean up after themselves.
func TestCloneChecksLeaveNoScratchFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := xfsReflink(dir)
	require.NoError(t, err)
	_, err = cloneTest(dir)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCloneChecksOnCoWDir(t *testing.T) {
	dir := os.Getenv(cowDirEnv)
	if dir == "" {
		t.Skipf("%s not set", cowDirEnv)
	}

	supported, err := cloneTest(dir)
	require.NoError(t, err)
	assert.True(t, supported)
}
