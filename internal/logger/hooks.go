package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	hooksMu sync.RWMutex
	hooks   []Hook
)

// Hook is a function that gets called right before a message is logged.
type Hook = func(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field)

// AddHook registers fn for every subsequent log call. Library code logs from
// many goroutines, so registration is guarded.
func AddHook(fn Hook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, fn)
}

func snapshotHooks() []Hook {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return hooks
}
