package observability

import (
	"context"
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
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("logger should not be nil")
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestCallContext_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithCallContext(context.Background(), CallContext{UserID: "user-1", CallUUID: "call-1"})
	call, ok := CallContextFromContext(ctx)
	if !ok {
		t.Fatal("expected call context to exist")
	}
	if call.UserID != "user-1" || call.CallUUID != "call-1" {
		t.Fatalf("call context=%+v, want user-1/call-1", call)
	}
}

func TestCallContext_EmptyValue(t *testing.T) {
	t.Parallel()

	ctx := WithCallContext(context.TODO(), CallContext{CallType: "daily_reckoning"})
	if _, ok := CallContextFromContext(ctx); ok {
		t.Fatal("expected call context without identifiers to be ignored")
	}
	if _, ok := CallContextFromContext(context.Background()); ok {
		t.Fatal("expected call context to be missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	ctx := WithCallContext(context.Background(), CallContext{
		UserID:   "user-1",
		CallUUID: "call-1",
		CallType: "daily_reckoning",
	})
	WithContextLogger(baseLogger, ctx).Info("call dispatched")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["userId"] != "user-1" || fields["callUUID"] != "call-1" || fields["callType"] != "daily_reckoning" {
		t.Fatalf("fields=%v, want call identifiers", fields)
	}
}

func TestWithContextLogger_NoCallContext(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	WithContextLogger(baseLogger, context.Background()).Info("tick finished")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}
	if _, ok := entries[0].ContextMap()["callUUID"]; ok {
		t.Fatal("expected callUUID field to be absent")
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}
