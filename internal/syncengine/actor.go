package syncengine

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/domain"
)

type actorKey struct{}

// WithActor tags ctx with the user a remote call is made on behalf of.
func WithActor(ctx context.Context, user domain.User) context.Context {
	return context.WithValue(ctx, actorKey{}, user)
}

// ActorFromContext returns the user set by WithActor.
func ActorFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(actorKey{}).(domain.User)
	return user, ok && user.ID != ""
}
