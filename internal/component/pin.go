package component

import "context"

type pinKey struct{}

// WithPinned returns a context that pins capability calls to the named
// provider. The pinned provider is tried first; the normal fallback chain
// still applies when it is unavailable or fails.
func WithPinned(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, pinKey{}, provider)
}

// pinnedFrom extracts the pinned provider name from ctx, or "".
func pinnedFrom(ctx context.Context) string {
	name, _ := ctx.Value(pinKey{}).(string)
	return name
}
