package identity

import "context"

type callerContextKey struct{}

// ContextWithCaller stores the resolved caller id in context.
func ContextWithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, callerID)
}

// CallerFromContext extracts the caller id; empty means anonymous.
func CallerFromContext(ctx context.Context) string {
	callerID, _ := ctx.Value(callerContextKey{}).(string)
	return callerID
}
