package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON production logger. An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": "pushengine"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// logField is a context key whose value becomes a string log field.
type logField string

const (
	workerField  logField = "worker"
	entryIDField logField = "entryId"
)

// Fields are emitted in this order.
var contextFields = []logField{workerField, entryIDField}

func (f logField) from(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(f).(string)
	return v, ok && v != ""
}

func WithEntryID(ctx context.Context, entryID string) context.Context {
	return context.WithValue(ctx, entryIDField, entryID)
}

func EntryIDFromContext(ctx context.Context) (string, bool) {
	return entryIDField.from(ctx)
}

// WithWorker tags ctx with the periodic worker running the current tick.
func WithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, workerField, worker)
}

func WorkerFromContext(ctx context.Context) (string, bool) {
	return workerField.from(ctx)
}

// WithContextLogger returns logger annotated with the tags carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil || ctx == nil {
		return logger
	}

	var fields []zap.Field
	for _, f := range contextFields {
		if v, ok := f.from(ctx); ok {
			fields = append(fields, zap.String(string(f), v))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
