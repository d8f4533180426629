package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level     string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{level: "", wantLevel: zapcore.InfoLevel},
		{level: "debug", wantLevel: zapcore.DebugLevel},
		{level: " WARN ", wantLevel: zapcore.WarnLevel},
		{level: "error", wantLevel: zapcore.ErrorLevel},
		{level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run("level="+tt.level, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.level)
			if tt.wantErr {
				if err == nil || logger != nil {
					t.Fatalf("NewLogger(%q) = %v, %v, want error", tt.level, logger, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}
			if got := zapcore.LevelOf(logger.Core()); got != tt.wantLevel {
				t.Fatalf("level = %s, want %s", got, tt.wantLevel)
			}
		})
	}
}

func TestContextTags(t *testing.T) {
	t.Parallel()

	ctx := WithEntryID(WithWorker(context.Background(), "janitor"), "entry-1")
	if id, ok := EntryIDFromContext(ctx); !ok || id != "entry-1" {
		t.Fatalf("EntryIDFromContext() = %q, %v", id, ok)
	}
	if w, ok := WorkerFromContext(ctx); !ok || w != "janitor" {
		t.Fatalf("WorkerFromContext() = %q, %v", w, ok)
	}

	if _, ok := EntryIDFromContext(WithEntryID(context.Background(), "")); ok {
		t.Fatal("empty entry id should read as missing")
	}
	if _, ok := WorkerFromContext(context.Background()); ok {
		t.Fatal("untagged context should have no worker")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  context.Context
		want map[string]any
	}{
		{
			name: "worker and entry",
			ctx:  WithEntryID(WithWorker(context.Background(), "batch-scheduler"), "entry-789"),
			want: map[string]any{"worker": "batch-scheduler", "entryId": "entry-789"},
		},
		{
			name: "worker only",
			ctx:  WithWorker(context.Background(), "retry-manager"),
			want: map[string]any{"worker": "retry-manager"},
		},
		{
			name: "untagged",
			ctx:  context.Background(),
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.InfoLevel)
			WithContextLogger(zap.New(core), tt.ctx).Info("tick")

			if recorded.Len() != 1 {
				t.Fatalf("entries = %d, want 1", recorded.Len())
			}
			got := recorded.All()[0].ContextMap()
			if len(got) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("field %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}

	if WithContextLogger(nil, context.Background()) != nil {
		t.Fatal("nil logger should stay nil")
	}
}
