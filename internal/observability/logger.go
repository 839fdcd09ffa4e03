package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type callContextKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// CallContext identifies the call a unit of work belongs to.
type CallContext struct {
	UserID   string
	CallUUID string
	CallType string
}

func WithCallContext(ctx context.Context, call CallContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, callContextKey{}, call)
}

func CallContextFromContext(ctx context.Context) (CallContext, bool) {
	if ctx == nil {
		return CallContext{}, false
	}

	call, ok := ctx.Value(callContextKey{}).(CallContext)
	if !ok || (call.UserID == "" && call.CallUUID == "") {
		return CallContext{}, false
	}

	return call, true
}

// WithContextLogger attaches the call identifiers carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	call, ok := CallContextFromContext(ctx)
	if !ok {
		return logger
	}

	fields := make([]zap.Field, 0, 3)
	if call.UserID != "" {
		fields = append(fields, zap.String("userId", call.UserID))
	}
	if call.CallUUID != "" {
		fields = append(fields, zap.String("callUUID", call.CallUUID))
	}
	if call.CallType != "" {
		fields = append(fields, zap.String("callType", call.CallType))
	}
	return logger.With(fields...)
}
