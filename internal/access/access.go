// Package access decides which actor may drive which state transition.
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
)

type Capability string

const (
	CapOrderCreate      Capability = "order:create"
	CapOrderConfirm     Capability = "order:confirm"
	CapOrderCancel      Capability = "order:cancel"
	CapOrderView        Capability = "order:view"
	CapOrderArchive     Capability = "order:archive"
	CapDeliveryAssign   Capability = "delivery:assign"
	CapDeliveryAdvance  Capability = "delivery:advance"
	CapDeliveryReassign Capability = "delivery:reassign"
	CapPaymentAuthorize Capability = "payment:authorize"
	CapPaymentCapture   Capability = "payment:capture"
	CapPaymentOverride  Capability = "payment:override"
	CapPaymentQueueView Capability = "payment:queue:view"
)

// roleSystem is used by background jobs. It never appears in tokens.
const roleSystem enums.Role = "system"

var policy = map[enums.Role][]Capability{
	enums.RoleClient: {
		CapOrderCreate, CapOrderConfirm, CapOrderCancel, CapOrderView,
	},
	enums.RoleCourier: {
		CapDeliveryAdvance, CapOrderView,
	},
	enums.RoleOperator: {
		CapOrderCreate, CapOrderConfirm, CapOrderCancel, CapOrderView, CapOrderArchive,
		CapDeliveryAssign, CapDeliveryAdvance, CapDeliveryReassign,
		CapPaymentAuthorize, CapPaymentCapture, CapPaymentOverride, CapPaymentQueueView,
	},
	roleSystem: {
		CapPaymentAuthorize, CapPaymentCapture, CapDeliveryAdvance, CapOrderView,
	},
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

// System returns the actor used by schedulers and webhook handlers.
func System() Actor {
	return Actor{Role: roleSystem}
}

func (a Actor) IsSystem() bool { return a.Role == roleSystem }

// Privileged actors act on any record regardless of ownership.
func (a Actor) Privileged() bool {
	return a.Role == enums.RoleAdmin || a.Role == enums.RoleOperator || a.Role == roleSystem
}

// UserRef returns the actor id for audit columns, nil for the system actor.
func (a Actor) UserRef() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// EventRef is the actor as recorded on outbox events.
func (a Actor) EventRef() *outbox.ActorRef {
	if a.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: a.UserID, Role: string(a.Role)}
}

// Checker is consumed by every state-transition operation.
type Checker interface {
	Require(actor Actor, capability Capability) error
	RequireOwner(actor Actor, capability Capability, ownerID uuid.UUID) error
}

type checker struct {
	grants map[enums.Role]map[Capability]struct{}
}

// NewChecker builds the role policy table.
func NewChecker() Checker {
	grants := make(map[enums.Role]map[Capability]struct{}, len(policy))
	for role, caps := range policy {
		set := make(map[Capability]struct{}, len(caps))
		for _, c := range caps {
			set[c] = struct{}{}
		}
		grants[role] = set
	}
	return &checker{grants: grants}
}

func (c *checker) Require(actor Actor, capability Capability) error {
	if actor.Role == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}
	if actor.Role == enums.RoleAdmin {
		return nil
	}
	if _, ok := c.grants[actor.Role][capability]; ok {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "missing capability").
		WithDetails(map[string]any{"capability": capability, "role": actor.Role})
}

// RequireOwner additionally binds non-privileged actors to records they own.
func (c *checker) RequireOwner(actor Actor, capability Capability, ownerID uuid.UUID) error {
	if err := c.Require(actor, capability); err != nil {
		return err
	}
	if actor.Privileged() {
		return nil
	}
	if ownerID == uuid.Nil || actor.UserID != ownerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "resource belongs to another user")
	}
	return nil
}

type ctxKey struct{}

// WithActor stores the actor on the request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ctxKey{}).(Actor)
	return actor, ok
}
