package auth

import "context"

type contextKey string

const callerKey contextKey = "caller"

// Caller is the verified identity the relay acts on behalf of.
type Caller struct {
	UserID string
	Roles  []string
}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}
