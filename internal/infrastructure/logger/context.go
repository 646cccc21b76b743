package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey struct{ name string }

var (
	loggerKey    = ctxKey{"logger"}
	requestIDKey = ctxKey{"request_id"}
)

// WithContext attaches log to ctx
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger attached to ctx. Without one it returns the
// first non-nil fallback, and a no-op logger after that.
func FromContext(ctx context.Context, fallback ...*zap.Logger) *zap.Logger {
	if ctx != nil {
		if l, _ := ctx.Value(loggerKey).(*zap.Logger); l != nil {
			return l
		}
	}
	for _, l := range fallback {
		if l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// WithRequestID stores id in ctx together with a logger tagged with it
func WithRequestID(ctx context.Context, log *zap.Logger, id string) (context.Context, *zap.Logger) {
	tagged := log.With(zap.String("request_id", id))
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithContext(ctx, tagged), tagged
}

// GetRequestID returns the id stored by WithRequestID
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTraceContext tags log with the trace and span ids of the active span.
// log is returned unchanged when ctx carries no valid span.
func WithTraceContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.Stringer("trace_id", sc.TraceID()),
		zap.Stringer("span_id", sc.SpanID()),
	)
}
