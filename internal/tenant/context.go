package tenant

import "context"

type contextKey struct{}

// Actor identifies who a call runs as. It is threaded explicitly through
// request contexts by the surrounding access layer; nothing in the engine
// reads it from a global.
type Actor struct {
	MerchantID int64
	Role       string
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

func MerchantID(ctx context.Context) int64 {
	a, ok := ActorFromContext(ctx)
	if !ok {
		return 0
	}
	return a.MerchantID
}

func IsAdmin(ctx context.Context) bool {
	a, ok := ActorFromContext(ctx)
	if !ok {
		return false
	}
	return a.Role == "admin"
}
