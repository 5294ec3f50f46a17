package deliveries

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	"github.com/angelmondragon/fulfillment-engine/internal/access"
	internaldeliveries "github.com/angelmondragon/fulfillment-engine/internal/deliveries"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type assignRequest struct {
	SubOrderID uuid.UUID `json:"sub_order_id"`
	CourierID  uuid.UUID `json:"courier_id"`
	Notes      string    `json:"notes" validate:"max=1000"`
}

type reassignRequest struct {
	CourierID uuid.UUID `json:"courier_id"`
}

type exceptionRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type advanceFunc func(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*models.Delivery, error)

// Assign creates a courier task for one confirmed sub order.
func Assign(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload assignRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.SubOrderID == uuid.Nil || payload.CourierID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sub_order_id and courier_id are required"))
			return
		}
		delivery, err := svc.Assign(r.Context(), actor, internaldeliveries.AssignInput{
			SubOrderID: payload.SubOrderID,
			CourierID:  payload.CourierID,
			Notes:      validators.SanitizeString(payload.Notes, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internaldeliveries.NewView(delivery))
	}
}

func Pickup(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return advance(svc.Pickup, logg)
}

func Transit(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return advance(svc.Transit, logg)
}

// Deliver completes the handoff. Capture runs synchronously and its outcome is
// reported alongside the delivery; a failed capture never fails the request.
func Deliver(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Deliver(r.Context(), actor, deliveryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internaldeliveries.NewDeliverView(result))
	}
}

func Exception(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload exceptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delivery, err := svc.Exception(r.Context(), actor, deliveryID, validators.SanitizeString(payload.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internaldeliveries.NewView(delivery))
	}
}

func Reassign(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reassignRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.CourierID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "courier_id is required"))
			return
		}
		delivery, err := svc.Reassign(r.Context(), actor, deliveryID, payload.CourierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internaldeliveries.NewView(delivery))
	}
}

func Detail(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return advance(svc.Get, logg)
}

// Mine lists the caller's open courier tasks.
func Mine(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListMine(r.Context(), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]internaldeliveries.View, 0, len(rows))
		for i := range rows {
			views = append(views, internaldeliveries.NewView(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{"deliveries": views})
	}
}

func advance(fn advanceFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delivery, err := fn(r.Context(), actor, deliveryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internaldeliveries.NewView(delivery))
	}
}

func actorAndDelivery(r *http.Request) (access.Actor, uuid.UUID, error) {
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		return access.Actor{}, uuid.Nil, err
	}
	deliveryID, err := validators.ParseUUIDParam(r, "deliveryId")
	if err != nil {
		return access.Actor{}, uuid.Nil, err
	}
	return actor, deliveryID, nil
}
