package domain

import "context"

type traceIDKey struct{}

// WithTraceID returns a context carrying the trace ID of the current
// request or event.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFrom returns the trace ID set by WithTraceID, or "".
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}
