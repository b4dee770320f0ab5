// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from ctx: the active span, the job
// being processed, the document inside that job and the HTTP request id.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := JobIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("job.id", id))
	}
	if doc := DocumentFromContext(ctx); doc != "" {
		fields = append(fields, zap.String("document", doc))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

type jobCtxKey struct{}
type documentCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// WithJobID tags ctx with the job id.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobCtxKey{}, id)
}

// JobIDFromContext returns the job id or "".
func JobIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(jobCtxKey{}).(string)
	return s
}

// WithDocument tags ctx with the document currently being processed.
func WithDocument(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, documentCtxKey{}, name)
}

// DocumentFromContext returns the document name or "".
func DocumentFromContext(ctx context.Context) string {
	s, _ := ctx.Value(documentCtxKey{}).(string)
	return s
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
