package middleware

import (
	"context"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// UserIDFromContext returns the authenticated user id, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	actor, ok := access.ActorFromContext(ctx)
	if !ok || actor.UserRef() == nil {
		return ""
	}
	return actor.UserID.String()
}

// RequireActor returns the authenticated actor or an UNAUTHORIZED error.
func RequireActor(ctx context.Context) (access.Actor, error) {
	actor, ok := access.ActorFromContext(ctx)
	if !ok || actor.Role == "" {
		return access.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return actor, nil
}
