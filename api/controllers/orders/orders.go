package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	"github.com/angelmondragon/fulfillment-engine/internal/access"
	internalorders "github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

type createOrderRequest struct {
	ClientID          *uuid.UUID        `json:"client_id"`
	Currency          string            `json:"currency" validate:"omitempty,currency"`
	PricingConvention string            `json:"pricing_convention" validate:"omitempty,oneof=gross_inclusive net_exclusive"`
	DeliveryAddress   types.Address     `json:"delivery_address"`
	Lines             []cartLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cartLineRequest struct {
	VendorID       uuid.UUID  `json:"vendor_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	CategoryID     *uuid.UUID `json:"category_id"`
	Name           string     `json:"name" validate:"required,max=200"`
	Quantity       int        `json:"quantity" validate:"required,min=1"`
	UnitPriceCents int64      `json:"unit_price_cents" validate:"min=0"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type confirmResponse struct {
	Order          internalorders.OrderView              `json:"order"`
	Authorizations []internalorders.AuthorizationOutcome `json:"authorizations"`
}

type cancelResponse struct {
	Order    internalorders.OrderView        `json:"order"`
	Releases []internalorders.ReleaseOutcome `json:"releases"`
}

// Create decomposes a priced cart into an order with one sub order per vendor.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		clientID := actor.UserID
		if payload.ClientID != nil && *payload.ClientID != uuid.Nil {
			clientID = *payload.ClientID
		}
		input := internalorders.DecomposeInput{
			Actor:             actor,
			ClientID:          clientID,
			Currency:          payload.Currency,
			PricingConvention: enums.PricingConvention(payload.PricingConvention),
			DeliveryAddress:   payload.DeliveryAddress,
			Lines:             make([]internalorders.CartLine, 0, len(payload.Lines)),
		}
		for i, line := range payload.Lines {
			if line.VendorID == uuid.Nil || line.ProductID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "vendor_id and product_id are required").
					WithDetails(map[string]any{"line": i}))
				return
			}
			input.Lines = append(input.Lines, internalorders.CartLine{
				VendorID:       line.VendorID,
				ProductID:      line.ProductID,
				CategoryID:     line.CategoryID,
				Name:           validators.SanitizeString(line.Name, 200),
				Quantity:       line.Quantity,
				UnitPriceCents: line.UnitPriceCents,
			})
		}

		order, err := svc.Decompose(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalorders.NewOrderView(order, nil))
	}
}

// Confirm confirms the order and reports the per-vendor authorization outcome.
func Confirm(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Confirm(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, confirmResponse{
			Order:          internalorders.NewOrderView(result.Order, nil),
			Authorizations: result.Authorizations,
		})
	}
}

func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload cancelOrderRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Cancel(r.Context(), actor, orderID, validators.SanitizeString(payload.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelResponse{
			Order:    internalorders.NewOrderView(result.Order, nil),
			Releases: result.Releases,
		})
	}
}

func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(detail.Order, detail.Deliveries))
	}
}

// List pages orders newest first. Clients only ever see their own.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filters internalorders.ListFilters
		if filters.ClientID, err = validators.ParseUUIDQuery(r, "client_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filters.Status, err = validators.ParseQueryEnum(r, "status", enums.ParseOrderStatus); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), actor, filters, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func Archive(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Archive(r.Context(), actor, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"order_id": orderID, "archived": true})
	}
}

func actorAndOrder(r *http.Request) (access.Actor, uuid.UUID, error) {
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		return access.Actor{}, uuid.Nil, err
	}
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		return access.Actor{}, uuid.Nil, err
	}
	return actor, orderID, nil
}
