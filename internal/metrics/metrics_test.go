package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	c.ObserveClone(ResultOK, time.Millisecond)
	c.ObserveClone(ResultOK, time.Millisecond)
	c.ObserveClone("unsupported", time.Millisecond)
	c.ObserveChunk(4096)
	c.ObserveChunk(4096)
	c.ObserveRebuild(3)
	c.ObserveRebuild(4)
	c.ObserveLockWait(time.Microsecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.clones.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.clones.WithLabelValues("unsupported")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.cloneLatency))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.chunks))
	assert.Equal(t, 8192.0, testutil.ToFloat64(c.chunkBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.rebuilds))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.volumes))
	assert.Equal(t, 1, testutil.CollectAndCount(c.lockWait))
}

func TestIndependentCollectors(t *testing.T) {
	a, err := NewCollector()
	require.NoError(t, err)
	b, err := NewCollector()
	require.NoError(t, err)

	a.ObserveChunk(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.chunks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.chunks))
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveClone(ResultOK, time.Second)
		c.ObserveChunk(1)
		c.ObserveRebuild(1)
		c.ObserveLockWait(time.Second)
	})
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")))
}

func TestWriteTextfile(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)
	c.ObserveRebuild(2)

	path := filepath.Join(t.TempDir(), "clonefs.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "clonefs_volumes 2")
	assert.Contains(t, string(data), "clonefs_volume_cache_rebuilds_total 1")
}
