package identity

import "context"

type contextKey struct{}

// WithContext attaches the identity to a request context. The engine
// reads it back when building pipeline execution contexts.
func WithContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached to the context, or nil for
// anonymous requests.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
