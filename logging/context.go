package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	// TriggerIDKey is the context key for the id assigned to one trigger invocation.
	TriggerIDKey ctxKey = "trigger_id"
	// CategoryKey is the context key for the image category being processed.
	CategoryKey ctxKey = "category"
)

// WithContext creates a child logger with trigger_id and category taken from ctx.
func WithContext(logger Logger, ctx context.Context) Logger {
	if ctx == nil {
		return logger
	}

	var fields []zap.Field
	if id := stringValue(ctx, TriggerIDKey); id != "" {
		fields = append(fields, zap.String("trigger_id", id))
	}
	if category := stringValue(ctx, CategoryKey); category != "" {
		fields = append(fields, zap.String("category", category))
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// SetTriggerID adds the trigger id to ctx.
func SetTriggerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TriggerIDKey, id)
}

// SetCategory adds the category name to ctx.
func SetCategory(ctx context.Context, category string) context.Context {
	return context.WithValue(ctx, CategoryKey, category)
}

// GetTriggerID extracts the trigger id from ctx.
func GetTriggerID(ctx context.Context) string {
	return stringValue(ctx, TriggerIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

type loggerKey struct{}

// FromContext returns the Logger stored in ctx, or the global logger if none.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return Global()
	}
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Global()
}

// ToContext stores the Logger in ctx.
func ToContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}
