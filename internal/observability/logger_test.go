package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true, infoEnabled: true},
		{name: "info level", level: "INFO", debugEnabled: false, infoEnabled: true},
		{name: "warning alias", level: "warning", debugEnabled: false, infoEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false, infoEnabled: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level, "worker")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tc.infoEnabled {
				t.Fatalf("info enabled=%v, want=%v", got, tc.infoEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level", "api")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestCorrelationID_ContextHelpers(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		ctx    context.Context
		id     string
		want   string
		wantOK bool
	}{
		{name: "set", ctx: context.Background(), id: "req-123", want: "req-123", wantOK: true},
		{name: "trimmed", ctx: context.TODO(), id: "  req-456 ", want: "req-456", wantOK: true},
		{name: "blank ignored", ctx: context.Background(), id: "   ", wantOK: false},
		{name: "blank keeps earlier id", ctx: WithCorrelationID(context.Background(), "req-789"), id: "", want: "req-789", wantOK: true},
	}

	for _, tc := range testCases {
		got, ok := CorrelationIDFromContext(WithCorrelationID(tc.ctx, tc.id))
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("%s: CorrelationIDFromContext() = %q, %v, want %q, %v", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestEnsureCorrelationID(t *testing.T) {
	t.Parallel()

	ctx, id := EnsureCorrelationID(WithCorrelationID(context.Background(), "req-1"))
	if id != "req-1" {
		t.Fatalf("EnsureCorrelationID() kept %q, want req-1", id)
	}
	if got, _ := CorrelationIDFromContext(ctx); got != "req-1" {
		t.Fatalf("context id = %q, want req-1", got)
	}

	ctx, minted := EnsureCorrelationID(context.Background())
	if minted == "" {
		t.Fatal("expected a minted correlation id")
	}
	if got, ok := CorrelationIDFromContext(ctx); !ok || got != minted {
		t.Fatalf("context id = %q, want %q", got, minted)
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	WithContextLogger(baseLogger, WithCorrelationID(context.Background(), "req-789")).Info("with correlation")
	WithContextLogger(baseLogger, context.Background()).Info("without correlation")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if got := entries[0].ContextMap()[FieldCorrelationID]; got != "req-789" {
		t.Fatalf("correlationId=%v, want=%q", got, "req-789")
	}
	if _, ok := entries[1].ContextMap()[FieldCorrelationID]; ok {
		t.Fatal("expected correlationId field to be absent")
	}

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}

func TestJobLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	ctx := WithCorrelationID(context.Background(), "req-9")

	JobLogger(zap.New(core), ctx, "9223370000000000000", "user-1").Info("sent")

	fields := recorded.All()[0].ContextMap()
	if fields[FieldCorrelationID] != "req-9" || fields[FieldNotificationID] != "9223370000000000000" || fields[FieldRecipientID] != "user-1" {
		t.Fatalf("fields = %v", fields)
	}
	if JobLogger(nil, ctx, "n", "r") != nil {
		t.Fatal("expected nil logger")
	}
}

func TestCronLoggerBridge(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.DebugLevel)
	logger := NewCronLogger(zap.New(core))

	logger.Info("wake", "now", "t0")
	logger.Error(errors.New("job panicked"), "panic", "job", "sweep")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].LoggerName != "cron" {
		t.Fatalf("info entry = %+v", entries[0].Entry)
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("error entry level = %v", entries[1].Level)
	}
	if got := entries[1].ContextMap()["job"]; got != "sweep" {
		t.Fatalf("job=%v, want=sweep", got)
	}
}
