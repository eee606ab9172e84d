package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gadget-inc/clonefs/internal/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type TestCtx struct {
	t   *testing.T
	log *zap.Logger
	ctx context.Context
	dir string
}

func NewTestCtx(t *testing.T) TestCtx {
	log := zaptest.NewLogger(t)
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(logger.IntoContext(context.Background(), log))
	t.Cleanup(cancel)

	return TestCtx{
		t:   t,
		log: log,
		ctx: ctx,
		dir: t.TempDir(),
	}
}

func (tc *TestCtx) Logger() *zap.Logger {
	return tc.log
}

func (tc *TestCtx) Context() context.Context {
	return tc.ctx
}

func (tc *TestCtx) T() *testing.T {
	return tc.t
}

// Dir is a scratch directory removed when the test ends.
func (tc *TestCtx) Dir() string {
	return tc.dir
}

// Path joins elems onto Dir.
func (tc *TestCtx) Path(elems ...string) string {
	return filepath.Join(append([]string{tc.dir}, elems...)...)
}

// Resolved returns the absolute form of Dir with symlinks evaluated, matching
// what mount tables report.
func (tc *TestCtx) Resolved() string {
	dir, err := filepath.EvalSymlinks(tc.dir)
	require.NoError(tc.t, err, "resolve temp dir")
	return dir
}
