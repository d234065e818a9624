package audit

import "context"

type actorKey struct{}

// WithActor attaches the acting console user to the context. Operations
// that pass through the service layer carry the actor down to the audit
// trail this way.
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom extracts the acting user from the context. Returns
// SystemActor when none is present, so engine-initiated transitions
// (scheduled firings, automatic approvals, reaping) attribute cleanly.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
