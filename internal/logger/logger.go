package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{}

var key = &contextKey{}

// Init builds the process logger from config and installs it as the zap global.
func Init(config zap.Config, opts ...zap.Option) error {
	log, err := config.Build(append(opts, zap.AddCallerSkip(2))...)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(log)
	return nil
}

func Logger(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(key).(*zap.Logger); ok {
		return log
	}
	return zap.L()
}

// IntoContext attaches log to ctx, replacing any logger already carried by it.
func IntoContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, key, log)
}

func With(ctx context.Context, fields ...zap.Field) context.Context {
	return IntoContext(ctx, Logger(ctx).With(fields...))
}

func Sync() error {
	return zap.L().Sync()
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.DebugLevel, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.InfoLevel, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.WarnLevel, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.ErrorLevel, msg, fields...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.FatalLevel, msg, fields...)
}

func Log(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field) {
	write(ctx, level, msg, fields...)
}

// write runs the hooks and emits the entry.
//
// Loggers built by Init skip two caller frames, so this must only be reached
// through one of the exported helpers above.
func write(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field) {
	for _, hook := range snapshotHooks() {
		hook(ctx, level, msg, fields...)
	}
	Logger(ctx).Check(level, msg).Write(fields...)
}
