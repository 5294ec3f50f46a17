package controllers

import (
	"net/http"

	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

// PublicPing is the unauthenticated reachability probe for edge proxies.
func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

type callerView struct {
	UserID     string     `json:"user_id"`
	Role       enums.Role `json:"role"`
	Privileged bool       `json:"privileged"`
}

// WhoAmI reports the actor the engine derived from the caller's token.
// Privileged actors act on records they do not own.
func WhoAmI(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, callerView{
			UserID:     actor.UserID.String(),
			Role:       actor.Role,
			Privileged: actor.Privileged(),
		})
	}
}
