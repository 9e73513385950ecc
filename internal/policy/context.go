package policy

import "context"

type actorContextKey struct{}

// ContextWithActor attaches the resolved actor to the request context.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

// ActorFromContext extracts the actor placed by the authentication layer.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(actorContextKey{}).(Actor)
	return a, ok
}
