package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyIdentity  contextKey = "identity"
)

// WithRequestID adds the generation request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the generation request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithIdentity adds the admitted caller identity to context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, keyIdentity, identity)
}

// Identity extracts the admitted caller identity from context.
func Identity(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyIdentity).(string)
	return v, ok && v != ""
}
