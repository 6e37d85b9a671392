package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	routineIDKey ctxKey = iota
	routineNameKey
	runIDKey
)

// WithRoutineID returns a context carrying the routine ID.
func WithRoutineID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, routineIDKey, id)
}

// WithRoutineName returns a context carrying the routine name.
func WithRoutineName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, routineNameKey, name)
}

// WithRunID returns a context carrying the run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RoutineID extracts the routine ID from the context. ok is false if absent.
func RoutineID(ctx context.Context) (id int64, ok bool) {
	id, ok = ctx.Value(routineIDKey).(int64)
	return id, ok
}

// RoutineName extracts the routine name from the context, or "" if absent.
func RoutineName(ctx context.Context) string {
	v, _ := ctx.Value(routineNameKey).(string)
	return v
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// WithRoutine sets all routine correlation values at once.
func WithRoutine(ctx context.Context, id int64, name, runID string) context.Context {
	ctx = WithRoutineID(ctx, id)
	if name != "" {
		ctx = WithRoutineName(ctx, name)
	}
	if runID != "" {
		ctx = WithRunID(ctx, runID)
	}
	return ctx
}

// LogWith returns a logger enriched with correlation values from the context.
// Only present values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if attrs := correlationAttrs(ctx); len(attrs) > 0 {
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		logger = logger.With(args...)
	}
	return logger
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id, ok := RoutineID(ctx); ok {
		attrs = append(attrs, slog.Int64("routine_id", id))
	}
	if v := RoutineName(ctx); v != "" {
		attrs = append(attrs, slog.String("routine_name", v))
	}
	if v := RunID(ctx); v != "" {
		attrs = append(attrs, slog.String("run_id", v))
	}
	return attrs
}

// CorrelationHandler wraps an slog.Handler, injecting routine correlation
// values from the context into every record logged with a *Context method.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
