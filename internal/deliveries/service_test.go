package deliveries

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/capture"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/taxprofiles"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

var testNow = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (g *stubGateway) CompletePayment(ctx context.Context, paymentID string) (*square.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, paymentID)
	if g.err != nil {
		return nil, g.err
	}
	return &square.Payment{ID: paymentID, Status: square.StatusCompleted}, nil
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type nopAuthorizer struct{}

func (nopAuthorizer) AuthorizeOrder(context.Context, access.Actor, uuid.UUID) ([]orders.AuthorizationOutcome, error) {
	return nil, nil
}

type nopReleaser struct{}

func (nopReleaser) ReleaseForCancellation(context.Context, uuid.UUID, string) error { return nil }

type fixture struct {
	db       *gorm.DB
	svc      Service
	orders   orders.Repository
	gateway  *stubGateway
	client   access.Actor
	courier  access.Actor
	operator access.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clock := func() time.Time { return testNow }
	tx := dbpkg.Wrap(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	checker := access.NewChecker()
	ordersRepo := orders.NewRepository(conn)

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       ordersRepo,
		TaxRepo:    taxprofiles.NewRepository(conn),
		Tx:         tx,
		Outbox:     emitter,
		Access:     checker,
		Authorizer: nopAuthorizer{},
		Releaser:   nopReleaser{},
		Settings:   orders.Settings{Currency: "EUR", PricingConvention: enums.PricingGrossInclusive},
		Clock:      clock,
	})
	require.NoError(t, err)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	gateway := &stubGateway{}
	captureSvc, err := capture.NewService(capture.ServiceParams{
		Orders:         ordersRepo,
		Repo:           capture.NewRepository(conn),
		Tx:             tx,
		Gateway:        gateway,
		Ledger:         ledgerSvc,
		Outbox:         emitter,
		Access:         checker,
		WorkerID:       "api-test",
		GatewayTimeout: time.Second,
		Clock:          clock,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(conn),
		Orders:    ordersRepo,
		Completer: orderSvc,
		Capturer:  captureSvc,
		Tx:        tx,
		Outbox:    emitter,
		Access:    checker,
		Clock:     clock,
	})
	require.NoError(t, err)

	return &fixture{
		db:       conn,
		svc:      svc,
		orders:   ordersRepo,
		gateway:  gateway,
		client:   access.Actor{UserID: uuid.New(), Role: enums.RoleClient},
		courier:  access.Actor{UserID: uuid.New(), Role: enums.RoleCourier},
		operator: access.Actor{UserID: uuid.New(), Role: enums.RoleOperator},
	}
}

func (f *fixture) seedAuthorized(t *testing.T, holdRefs ...string) (*models.Order, []models.SubOrder) {
	t.Helper()
	expires := testNow.Add(5 * 24 * time.Hour)
	seeds := make([]dbtest.SubOrderSeed, 0, len(holdRefs))
	for _, ref := range holdRefs {
		seeds = append(seeds, dbtest.SubOrderSeed{
			GrossCents:    1220,
			PaymentStatus: enums.PaymentStatusAuthorized,
			HoldRef:       ref,
			ExpiresAt:     &expires,
		})
	}
	return dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID, seeds...)
}

// inTransit assigns the sub order to the fixture courier and drives it to IN_TRANSIT.
func (f *fixture) inTransit(t *testing.T, subOrderID uuid.UUID) *models.Delivery {
	t.Helper()
	ctx := context.Background()
	delivery, err := f.svc.Assign(ctx, f.operator, AssignInput{SubOrderID: subOrderID, CourierID: f.courier.UserID})
	require.NoError(t, err)
	_, err = f.svc.Pickup(ctx, f.courier, delivery.ID)
	require.NoError(t, err)
	delivery, err = f.svc.Transit(ctx, f.courier, delivery.ID)
	require.NoError(t, err)
	return delivery
}

func (f *fixture) sub(t *testing.T, id uuid.UUID) *models.SubOrder {
	t.Helper()
	sub, err := f.orders.FindSubOrder(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func TestDeliverCapturesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, subs := f.seedAuthorized(t, "pay_1")

	delivery, err := f.svc.Assign(ctx, f.operator, AssignInput{SubOrderID: subs[0].ID, CourierID: f.courier.UserID, Notes: "ring twice"})
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusAssigned, delivery.Status)
	require.Equal(t, enums.FulfillmentStatusAssigned, f.sub(t, subs[0].ID).FulfillmentStatus)

	picked, err := f.svc.Pickup(ctx, f.courier, delivery.ID)
	require.NoError(t, err)
	require.NotNil(t, picked.PickedUpAt)
	require.Equal(t, enums.FulfillmentStatusInDelivery, f.sub(t, subs[0].ID).FulfillmentStatus)

	_, err = f.svc.Transit(ctx, f.courier, delivery.ID)
	require.NoError(t, err)

	result, err := f.svc.Deliver(ctx, f.courier, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusDelivered, result.Delivery.Status)
	require.NotNil(t, result.Delivery.DeliveredAt)
	require.Len(t, result.Captures, 1)
	require.Equal(t, string(capture.OutcomeCaptured), result.Captures[0].Outcome)

	sub := f.sub(t, subs[0].ID)
	require.Equal(t, enums.PaymentStatusCaptured, sub.PaymentStatus)
	require.Equal(t, enums.FulfillmentStatusDelivered, sub.FulfillmentStatus)
	require.NotNil(t, sub.DeliveredAt)

	stored, err := f.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, stored.Status)

	var events int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventDeliveryStatusChanged).Count(&events).Error)
	require.Equal(t, int64(4), events)
}

func TestDeliverWithoutHoldNeverCaptures(t *testing.T) {
	f := newFixture(t)
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusFailed},
	)
	delivery := f.inTransit(t, subs[0].ID)

	result, err := f.svc.Deliver(context.Background(), f.courier, delivery.ID)
	require.NoError(t, err)
	require.Empty(t, result.Captures)
	require.Zero(t, f.gateway.callCount())

	sub := f.sub(t, subs[0].ID)
	require.Equal(t, enums.PaymentStatusFailed, sub.PaymentStatus)
	require.Equal(t, enums.FulfillmentStatusDelivered, sub.FulfillmentStatus)
}

func TestDeliverKeepsDeliveryWhenCaptureFails(t *testing.T) {
	f := newFixture(t)
	_, subs := f.seedAuthorized(t, "pay_1")
	delivery := f.inTransit(t, subs[0].ID)
	f.gateway.err = pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")

	result, err := f.svc.Deliver(context.Background(), f.courier, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusDelivered, result.Delivery.Status)
	require.Equal(t, string(capture.OutcomeRetryScheduled), result.Captures[0].Outcome)

	sub := f.sub(t, subs[0].ID)
	require.Equal(t, enums.PaymentStatusAuthorizedPendingCapture, sub.PaymentStatus)
	require.Equal(t, 1, sub.PaymentAttemptCount)
	require.NotNil(t, sub.NextPaymentRetryAt)
	require.True(t, sub.NextPaymentRetryAt.After(testNow))
	require.False(t, sub.RequiresClientUpdate)
}

func TestConcurrentDeliverSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	_, subs := f.seedAuthorized(t, "pay_1")
	delivery := f.inTransit(t, subs[0].ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Deliver(context.Background(), f.courier, delivery.ID)
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case dbpkg.IsTransitionConflict(err):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)
	require.Equal(t, 1, f.gateway.callCount())
}

func TestDeliveryTransitionsAreForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, subs := f.seedAuthorized(t, "pay_1")
	delivery, err := f.svc.Assign(ctx, f.operator, AssignInput{SubOrderID: subs[0].ID, CourierID: f.courier.UserID})
	require.NoError(t, err)

	_, err = f.svc.Deliver(ctx, f.courier, delivery.ID)
	require.True(t, dbpkg.IsTransitionConflict(err))
	_, err = f.svc.Transit(ctx, f.courier, delivery.ID)
	require.True(t, dbpkg.IsTransitionConflict(err))

	_, err = f.svc.Pickup(ctx, f.courier, delivery.ID)
	require.NoError(t, err)
	_, err = f.svc.Pickup(ctx, f.courier, delivery.ID)
	require.True(t, dbpkg.IsTransitionConflict(err))

	// a second delivery for the same sub order is refused
	_, err = f.svc.Assign(ctx, f.operator, AssignInput{SubOrderID: subs[0].ID, CourierID: uuid.New()})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	require.Zero(t, f.gateway.callCount())
}

func TestCourierScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, subs := f.seedAuthorized(t, "pay_1")
	delivery, err := f.svc.Assign(ctx, f.operator, AssignInput{SubOrderID: subs[0].ID, CourierID: f.courier.UserID})
	require.NoError(t, err)

	stranger := access.Actor{UserID: uuid.New(), Role: enums.RoleCourier}
	_, err = f.svc.Pickup(ctx, stranger, delivery.ID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	_, err = f.svc.Get(ctx, stranger, delivery.ID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = f.svc.Assign(ctx, f.courier, AssignInput{SubOrderID: subs[0].ID, CourierID: f.courier.UserID})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	got, err := f.svc.Get(ctx, f.client, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, delivery.ID, got.ID)
	_, err = f.svc.Get(ctx, access.Actor{UserID: uuid.New(), Role: enums.RoleClient}, delivery.ID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	mine, err := f.svc.ListMine(ctx, f.courier)
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestExceptionThenReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, subs := f.seedAuthorized(t, "pay_1")
	delivery := f.inTransit(t, subs[0].ID)

	_, err := f.svc.Exception(ctx, f.courier, delivery.ID, " ")
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	failed, err := f.svc.Exception(ctx, f.courier, delivery.ID, "recipient absent")
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusException, failed.Status)
	require.Equal(t, "recipient absent", *failed.ExceptionReason)
	sub := f.sub(t, subs[0].ID)
	require.Equal(t, enums.FulfillmentStatusException, sub.FulfillmentStatus)
	require.Equal(t, enums.PaymentStatusAuthorized, sub.PaymentStatus)
	require.Zero(t, f.gateway.callCount())

	_, err = f.svc.Deliver(ctx, f.courier, delivery.ID)
	require.True(t, dbpkg.IsTransitionConflict(err))

	_, err = f.svc.Reassign(ctx, f.courier, delivery.ID, uuid.New())
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	next := access.Actor{UserID: uuid.New(), Role: enums.RoleCourier}
	reassigned, err := f.svc.Reassign(ctx, f.operator, delivery.ID, next.UserID)
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusAssigned, reassigned.Status)
	require.Equal(t, next.UserID, reassigned.CourierID)
	require.Nil(t, reassigned.PickedUpAt)
	require.Nil(t, reassigned.ExceptionReason)
	require.Equal(t, enums.FulfillmentStatusAssigned, f.sub(t, subs[0].ID).FulfillmentStatus)

	_, err = f.svc.Pickup(ctx, f.courier, delivery.ID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	_, err = f.svc.Pickup(ctx, next, delivery.ID)
	require.NoError(t, err)
}

func TestLegacyOrderDeliveryCapturesEverySubOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, subs := f.seedAuthorized(t, "pay_a", "pay_b")

	legacy := &models.Delivery{
		ID:         uuid.New(),
		OrderID:    order.ID,
		CourierID:  f.courier.UserID,
		Status:     enums.DeliveryStatusInTransit,
		AssignedAt: testNow.Add(-time.Hour),
	}
	require.NoError(t, f.db.Create(legacy).Error)

	result, err := f.svc.Deliver(ctx, f.courier, legacy.ID)
	require.NoError(t, err)
	require.Len(t, result.Captures, 2)
	require.ElementsMatch(t, []string{"pay_a", "pay_b"}, f.gateway.calls)

	for _, seeded := range subs {
		sub := f.sub(t, seeded.ID)
		require.Equal(t, enums.PaymentStatusCaptured, sub.PaymentStatus)
		require.Equal(t, enums.FulfillmentStatusDelivered, sub.FulfillmentStatus)
	}
	stored, err := f.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, stored.Status)
}

func TestAssignRequiresConfirmedOrder(t *testing.T) {
	f := newFixture(t)
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusPendingConfirmation, f.client.UserID, dbtest.SubOrderSeed{GrossCents: 1000})
	_, err := f.svc.Assign(context.Background(), f.operator, AssignInput{SubOrderID: subs[0].ID, CourierID: f.courier.UserID})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	_, err = f.svc.Assign(context.Background(), f.operator, AssignInput{SubOrderID: uuid.New(), CourierID: f.courier.UserID})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}
