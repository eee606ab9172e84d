package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteRandomFile creates path with size bytes of deterministic content.
func WriteRandomFile(t *testing.T, path string, size int64) []byte {
	t.Helper()

	data := make([]byte, size)
	rnd := rand.New(rand.NewSource(size + 1))
	_, _ = rnd.Read(data)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

// AssertFileContent fails unless path holds exactly expected.
func AssertFileContent(t *testing.T, path string, expected []byte) {
	t.Helper()

	actual, err := os.ReadFile(path)
	require.NoError(t, err, "read %v", path)
	require.Equal(t, len(expected), len(actual), "length of %v", path)
	require.True(t, string(expected) == string(actual), "content of %v differs", path)
}
