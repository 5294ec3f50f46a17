package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/taxprofiles"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

const (
	orderNumberConstraint  = "orders_order_number_key"
	maxOrderNumberAttempts = 3
)

// Authorizer places holds for every SubOrder of a confirmed order.
type Authorizer interface {
	AuthorizeOrder(ctx context.Context, actor access.Actor, orderID uuid.UUID) ([]AuthorizationOutcome, error)
}

// HoldReleaser voids an open hold after the order was canceled.
type HoldReleaser interface {
	ReleaseForCancellation(ctx context.Context, subOrderID uuid.UUID, reason string) error
}

// Settings are the platform-wide pricing defaults captured at decomposition.
type Settings struct {
	Currency          string
	PricingConvention enums.PricingConvention
	PlatformFeeBps    int64
}

// Service exposes the order lifecycle.
type Service interface {
	Decompose(ctx context.Context, input DecomposeInput) (*models.Order, error)
	Confirm(ctx context.Context, actor access.Actor, orderID uuid.UUID) (*ConfirmResult, error)
	Cancel(ctx context.Context, actor access.Actor, orderID uuid.UUID, reason string) (*CancelResult, error)
	Get(ctx context.Context, actor access.Actor, orderID uuid.UUID) (*OrderDetail, error)
	List(ctx context.Context, actor access.Actor, filters ListFilters, params pagination.Params) (*OrderList, error)
	Archive(ctx context.Context, actor access.Actor, orderID uuid.UUID) error
	CompleteIfFulfilled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
}

// ServiceParams groups the collaborators of the order service.
type ServiceParams struct {
	Repo       Repository
	TaxRepo    taxprofiles.Repository
	Tx         dbpkg.TxRunner
	Outbox     outbox.Emitter
	Access     access.Checker
	Authorizer Authorizer
	Releaser   HoldReleaser
	Logger     *logger.Logger
	Settings   Settings
	Clock      func() time.Time
}

type service struct {
	repo       Repository
	taxRepo    taxprofiles.Repository
	tx         dbpkg.TxRunner
	outbox     outbox.Emitter
	access     access.Checker
	authorizer Authorizer
	releaser   HoldReleaser
	logg       *logger.Logger
	settings   Settings
	now        func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TaxRepo == nil {
		return nil, fmt.Errorf("tax profile repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Access == nil {
		return nil, fmt.Errorf("access checker required")
	}
	if params.Authorizer == nil {
		return nil, fmt.Errorf("payment authorizer required")
	}
	if params.Releaser == nil {
		return nil, fmt.Errorf("hold releaser required")
	}
	if !params.Settings.PricingConvention.IsValid() {
		return nil, fmt.Errorf("invalid pricing convention %q", params.Settings.PricingConvention)
	}
	if params.Settings.PlatformFeeBps < 0 {
		return nil, fmt.Errorf("platform fee must not be negative")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:       params.Repo,
		taxRepo:    params.TaxRepo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		access:     params.Access,
		authorizer: params.Authorizer,
		releaser:   params.Releaser,
		logg:       logg,
		settings:   params.Settings,
		now:        clock,
	}, nil
}

func (s *service) Decompose(ctx context.Context, input DecomposeInput) (*models.Order, error) {
	if err := validateDecomposeInput(input); err != nil {
		return nil, err
	}
	if err := s.access.RequireOwner(input.Actor, access.CapOrderCreate, input.ClientID); err != nil {
		return nil, err
	}
	if input.PricingConvention == "" {
		input.PricingConvention = s.settings.PricingConvention
	}
	if !input.PricingConvention.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid pricing convention")
	}
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.Currency == "" {
		input.Currency = s.settings.Currency
	}
	if len(input.Currency) != 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be an ISO-4217 code")
	}

	groups := groupByVendor(input.Lines)

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		var created *models.Order
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := s.decomposeTx(ctx, tx, input, groups)
			if err != nil {
				return err
			}
			created = order
			return nil
		})
		if err == nil {
			logCtx := s.logg.WithOrderID(ctx, created.ID.String())
			logCtx = s.logg.WithFields(logCtx, map[string]any{
				"order_number": created.OrderNumber,
				"sub_orders":   len(created.SubOrders),
				"total_cents":  created.TotalCents,
			})
			s.logg.Info(logCtx, "order decomposed")
			return created, nil
		}
		if !dbpkg.IsUniqueViolation(err, orderNumberConstraint) {
			return nil, err
		}
		lastErr = err
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "could not allocate order number")
}

func (s *service) Confirm(ctx context.Context, actor access.Actor, orderID uuid.UUID) (*ConfirmResult, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireOwner(actor, access.CapOrderConfirm, order.ClientID); err != nil {
		return nil, err
	}

	switch order.Status {
	case enums.OrderStatusPendingConfirmation:
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := s.now()
			if err := s.repo.WithTx(tx).TransitionOrder(ctx, order.ID,
				[]enums.OrderStatus{enums.OrderStatusPendingConfirmation},
				map[string]any{"status": enums.OrderStatusConfirmed, "confirmed_at": now},
			); err != nil {
				return err
			}
			return s.emitOrderStatus(ctx, tx, actor, order, enums.EventOrderConfirmed, enums.OrderStatusConfirmed, "", now)
		})
		if err != nil {
			if !dbpkg.IsTransitionConflict(err) {
				return nil, err
			}
			// a concurrent confirm is fine; anything else is not
			current, loadErr := s.loadOrder(ctx, s.repo, orderID)
			if loadErr != nil {
				return nil, loadErr
			}
			if current.Status != enums.OrderStatusConfirmed {
				return nil, err
			}
		}
	case enums.OrderStatusConfirmed:
		// re-confirming retries holds that are still outstanding
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed").
			WithDetails(map[string]any{"status": order.Status})
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(logCtx, "order confirmed")

	outcomes, err := s.authorizer.AuthorizeOrder(ctx, actor, order.ID)
	if err != nil {
		// holds are retried by the sweep job; confirmation stands
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "authorizing order holds failed")
	}

	detail, err := s.loadDetail(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Order: detail, Authorizations: outcomes}, nil
}

func (s *service) Cancel(ctx context.Context, actor access.Actor, orderID uuid.UUID, reason string) (*CancelResult, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireOwner(actor, access.CapOrderCancel, order.ClientID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	var toRelease []uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subs, err := repo.ListSubOrders(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub orders")
		}
		for _, sub := range subs {
			if sub.FulfillmentStatus == enums.FulfillmentStatusDelivered ||
				sub.PaymentStatus == enums.PaymentStatusAuthorizedPendingCapture ||
				sub.PaymentStatus == enums.PaymentStatusCaptured {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order has delivered sub orders").
					WithDetails(map[string]any{"sub_order_id": sub.ID.String()})
			}
		}

		now := s.now()
		updates := map[string]any{"status": enums.OrderStatusCanceled, "canceled_at": now}
		if reason != "" {
			updates["cancel_reason"] = reason
		}
		if err := repo.TransitionOrder(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPendingConfirmation, enums.OrderStatusConfirmed},
			updates,
		); err != nil {
			return err
		}

		for _, sub := range subs {
			if err := repo.TransitionFulfillment(ctx, sub.ID,
				[]enums.FulfillmentStatus{
					enums.FulfillmentStatusPending,
					enums.FulfillmentStatusAssigned,
					enums.FulfillmentStatusInDelivery,
					enums.FulfillmentStatusException,
				},
				map[string]any{"fulfillment_status": enums.FulfillmentStatusCanceled},
			); err != nil {
				return err
			}
			if sub.PaymentStatus == enums.PaymentStatusAuthorized {
				toRelease = append(toRelease, sub.ID)
			}
		}
		return s.emitOrderStatus(ctx, tx, actor, order, enums.EventOrderCanceled, enums.OrderStatusCanceled, reason, now)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(logCtx, "order canceled")

	result := &CancelResult{}
	for _, id := range toRelease {
		outcome := ReleaseOutcome{SubOrderID: id, Released: true}
		if err := s.releaser.ReleaseForCancellation(ctx, id, reason); err != nil {
			outcome.Released = false
			outcome.Error = err.Error()
			s.logg.Warn(s.logg.WithField(s.logg.WithSubOrderID(logCtx, id.String()), "error", err.Error()), "hold release after cancel failed")
		}
		result.Releases = append(result.Releases, outcome)
	}

	detail, err := s.loadDetail(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	result.Order = detail
	return result, nil
}

func (s *service) Get(ctx context.Context, actor access.Actor, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.loadDetail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.repo.ListDeliveries(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deliveries")
	}

	if actor.Role == enums.RoleCourier {
		if err := s.access.Require(actor, access.CapOrderView); err != nil {
			return nil, err
		}
		for _, d := range deliveries {
			if d.CourierID == actor.UserID {
				return &OrderDetail{Order: order, Deliveries: deliveries}, nil
			}
		}
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not assigned to courier")
	}
	if err := s.access.RequireOwner(actor, access.CapOrderView, order.ClientID); err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Deliveries: deliveries}, nil
}

func (s *service) List(ctx context.Context, actor access.Actor, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if err := s.access.Require(actor, access.CapOrderView); err != nil {
		return nil, err
	}
	switch {
	case actor.Role == enums.RoleClient:
		clientID := actor.UserID
		filters.ClientID = &clientID
	case !actor.Privileged():
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order listing not available for role")
	}
	if err := params.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.ListOrders(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

// Archive soft-deletes a finished order together with its sub orders and items.
func (s *service) Archive(ctx context.Context, actor access.Actor, orderID uuid.UUID) error {
	if err := s.access.Require(actor, access.CapOrderArchive); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusCanceled && order.Status != enums.OrderStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only canceled or completed orders can be archived")
		}
		if err := repo.SoftDeleteOrder(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive order")
		}
		return nil
	})
}

// CompleteIfFulfilled moves a confirmed order to completed once every sub
// order is delivered. It runs inside the caller's transaction.
func (s *service) CompleteIfFulfilled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	repo := s.repo.WithTx(tx)
	subs, err := repo.ListSubOrders(ctx, orderID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub orders")
	}
	if len(subs) == 0 {
		return false, nil
	}
	for _, sub := range subs {
		if sub.FulfillmentStatus != enums.FulfillmentStatusDelivered {
			return false, nil
		}
	}
	order, err := s.loadOrder(ctx, repo, orderID)
	if err != nil {
		return false, err
	}
	now := s.now()
	err = repo.TransitionOrder(ctx, orderID,
		[]enums.OrderStatus{enums.OrderStatusConfirmed},
		map[string]any{"status": enums.OrderStatusCompleted, "completed_at": now},
	)
	if dbpkg.IsTransitionConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.emitOrderStatus(ctx, tx, access.System(), order, enums.EventOrderCompleted, enums.OrderStatusCompleted, "", now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) loadOrder(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.FindOrder(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) loadDetail(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrderDetail(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order detail")
	}
	return order, nil
}

func (s *service) emitOrderCreated(ctx context.Context, tx *gorm.DB, actor access.Actor, order *models.Order) error {
	ids := make([]uuid.UUID, 0, len(order.SubOrders))
	for _, sub := range order.SubOrders {
		ids = append(ids, sub.ID)
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor.EventRef(),
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			ClientID:    order.ClientID,
			TotalCents:  order.TotalCents,
			Currency:    order.Currency,
			SubOrderIDs: ids,
		},
	})
}

func (s *service) emitOrderStatus(ctx context.Context, tx *gorm.DB, actor access.Actor, order *models.Order, eventType enums.OutboxEventType, status enums.OrderStatus, reason string, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor.EventRef(),
		Data: payloads.OrderStatusEvent{
			OrderID:  order.ID,
			ClientID: order.ClientID,
			Status:   status,
			Reason:   reason,
			At:       at,
		},
	})
}
