package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu          sync.Mutex
	authorizeFn func(params square.HoldParams) (*square.Payment, error)
	cancelFn    func(paymentID string) (*square.Payment, error)
	holds       []square.HoldParams
	canceled    []string
}

func (g *stubGateway) AuthorizePayment(ctx context.Context, params square.HoldParams) (*square.Payment, error) {
	g.mu.Lock()
	g.holds = append(g.holds, params)
	fn := g.authorizeFn
	g.mu.Unlock()
	if fn != nil {
		return fn(params)
	}
	until := testNow.Add(7 * 24 * time.Hour)
	return &square.Payment{ID: "pay_" + params.ReferenceID[:8], Status: square.StatusApproved, AmountCents: params.AmountCents, DelayedUntil: &until}, nil
}

func (g *stubGateway) CompletePayment(ctx context.Context, paymentID string) (*square.Payment, error) {
	return &square.Payment{ID: paymentID, Status: square.StatusCompleted}, nil
}

func (g *stubGateway) CancelPayment(ctx context.Context, paymentID string) (*square.Payment, error) {
	g.mu.Lock()
	g.canceled = append(g.canceled, paymentID)
	fn := g.cancelFn
	g.mu.Unlock()
	if fn != nil {
		return fn(paymentID)
	}
	return &square.Payment{ID: paymentID, Status: square.StatusCanceled}, nil
}

func (g *stubGateway) GetPayment(ctx context.Context, paymentID string) (*square.Payment, error) {
	return &square.Payment{ID: paymentID, Status: square.StatusApproved}, nil
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	orders   orders.Repository
	repo     Repository
	gateway  *stubGateway
	client   access.Actor
	operator access.Actor
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	f := &fixture{
		db:       conn,
		orders:   orders.NewRepository(conn),
		repo:     NewRepository(conn),
		gateway:  &stubGateway{},
		client:   access.Actor{UserID: uuid.New(), Role: enums.RoleClient},
		operator: access.Actor{UserID: uuid.New(), Role: enums.RoleOperator},
		now:      testNow,
	}
	svc, err := NewService(ServiceParams{
		Orders:              f.orders,
		Repo:                f.repo,
		Tx:                  dbpkg.Wrap(conn),
		Gateway:             f.gateway,
		Ledger:              ledgerSvc,
		Outbox:              outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Access:              access.NewChecker(),
		Logger:              logger.Nop(),
		AuthorizationWindow: 7 * 24 * time.Hour,
		GatewayTimeout:      time.Second,
		StalePendingAuth:    10 * time.Minute,
		RetrySchedule:       []time.Duration{time.Minute, 5 * time.Minute},
		MaxAttempts:         3,
		Clock:               func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) sub(t *testing.T, id uuid.UUID) *models.SubOrder {
	t.Helper()
	sub, err := f.orders.FindSubOrder(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (f *fixture) count(t *testing.T, model any, column string, value any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(column+" = ?", value).Count(&n).Error)
	return n
}

func TestAuthorizeOrderIsolatesVendors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendorA, vendorB := uuid.New(), uuid.New()
	order, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{VendorID: vendorA, GrossCents: 1000},
		dbtest.SubOrderSeed{VendorID: vendorB, GrossCents: 2000},
	)
	// vendor B never onboarded a payment account
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendorA)

	outcomes, err := f.svc.AuthorizeOrder(ctx, f.client, order.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	a := f.sub(t, subs[0].ID)
	require.Equal(t, enums.PaymentStatusAuthorized, a.PaymentStatus)
	require.NotEmpty(t, a.HoldRef())
	require.NotNil(t, a.AuthorizationExpiresAt)
	require.True(t, a.AuthorizationExpiresAt.Equal(testNow.Add(7*24*time.Hour)))

	b := f.sub(t, subs[1].ID)
	require.Equal(t, enums.PaymentStatusFailed, b.PaymentStatus)
	require.Equal(t, ErrCodeVendorAccountMissing, *b.LastPaymentErrorCode)
	require.False(t, b.RequiresClientUpdate)

	require.Len(t, f.gateway.holds, 1)
	hold := f.gateway.holds[0]
	require.Equal(t, int64(1000), hold.AmountCents)
	require.Equal(t, "LOC_1", hold.LocationID)
	require.Equal(t, "auth-"+subs[0].ID.String()+"-0", hold.IdempotencyKey)

	require.Equal(t, int64(1), f.count(t, &models.LedgerEvent{}, "type", enums.LedgerEventPaymentAuthorized))
	require.Equal(t, int64(1), f.count(t, &models.LedgerEvent{}, "type", enums.LedgerEventAuthorizationFail))
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type", enums.EventPaymentAuthorized))
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type", enums.EventPaymentFailed))
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := uuid.New()
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID, dbtest.SubOrderSeed{VendorID: vendor, GrossCents: 1220})
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendor)

	first, err := f.svc.Authorize(ctx, f.client, subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusAuthorized, first.Status)

	second, err := f.svc.Authorize(ctx, f.client, subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, first.HoldRef, second.HoldRef)
	require.Len(t, f.gateway.holds, 1)
}

func TestAuthorizeRejectsUnconfirmedOrder(t *testing.T) {
	f := newFixture(t)
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusPendingConfirmation, f.client.UserID, dbtest.SubOrderSeed{GrossCents: 1000})

	_, err := f.svc.Authorize(context.Background(), f.client, subs[0].ID)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	stranger := access.Actor{UserID: uuid.New(), Role: enums.RoleClient}
	_, err = f.svc.Authorize(context.Background(), stranger, subs[0].ID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	require.Empty(t, f.gateway.holds)
}

func TestAuthorizeTransientFailureIsRetriedWithSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := uuid.New()
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID, dbtest.SubOrderSeed{VendorID: vendor, GrossCents: 1000})
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendor)

	f.gateway.authorizeFn = func(square.HoldParams) (*square.Payment, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")
	}
	outcome, err := f.svc.Authorize(ctx, access.System(), subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusNone, outcome.Status)
	require.Equal(t, ErrCodeGatewayUnavailable, outcome.ErrorCode)

	deferred := f.sub(t, subs[0].ID)
	require.Equal(t, 1, deferred.PaymentAttemptCount)
	require.NotNil(t, deferred.NextPaymentRetryAt)
	require.True(t, deferred.NextPaymentRetryAt.Equal(testNow.Add(time.Minute)))

	f.gateway.authorizeFn = nil
	result, err := f.svc.SweepAuthorizations(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, result.Attempted, "backoff not yet elapsed")

	f.now = testNow.Add(time.Minute)
	result, err = f.svc.SweepAuthorizations(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, result.Attempted)
	require.Equal(t, 1, result.Authorized)

	require.Len(t, f.gateway.holds, 2)
	require.Equal(t, f.gateway.holds[0].IdempotencyKey, f.gateway.holds[1].IdempotencyKey)
	sub := f.sub(t, subs[0].ID)
	require.Equal(t, enums.PaymentStatusAuthorized, sub.PaymentStatus)
	require.Nil(t, sub.LastPaymentErrorCode)
	require.Zero(t, sub.PaymentAttemptCount)
	require.Nil(t, sub.NextPaymentRetryAt)
}

func TestSweepGivesUpOnFailingHoldsWithoutStarvingOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	failing := map[string]bool{}
	var seeds []dbtest.SubOrderSeed
	var vendors []uuid.UUID
	for i := 0; i < 4; i++ {
		vendor := uuid.New()
		vendors = append(vendors, vendor)
		seeds = append(seeds, dbtest.SubOrderSeed{VendorID: vendor, GrossCents: 1000})
	}
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID, seeds...)
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendors...)
	// the three oldest sub orders fill every batch unless backoff moves them aside
	for _, sub := range subs[:3] {
		failing[sub.ID.String()] = true
	}
	f.gateway.authorizeFn = func(params square.HoldParams) (*square.Payment, error) {
		if failing[params.ReferenceID] {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")
		}
		until := testNow.Add(7 * 24 * time.Hour)
		return &square.Payment{ID: "pay_" + params.ReferenceID[:8], Status: square.StatusApproved, DelayedUntil: &until}, nil
	}

	for i := 0; i < 20; i++ {
		_, err := f.svc.SweepAuthorizations(ctx, 3)
		require.NoError(t, err)
		f.now = f.now.Add(5 * time.Minute)
		if i == 1 {
			require.Equal(t, enums.PaymentStatusAuthorized, f.sub(t, subs[3].ID).PaymentStatus,
				"fresh sub order is attempted on the sweep after its batch filled")
		}
	}

	calls := map[string]int{}
	for _, hold := range f.gateway.holds {
		calls[hold.ReferenceID]++
	}
	for _, seeded := range subs[:3] {
		sub := f.sub(t, seeded.ID)
		require.Equal(t, enums.PaymentStatusFailed, sub.PaymentStatus)
		require.Equal(t, ErrCodeRetryExhausted, *sub.LastPaymentErrorCode)
		require.Equal(t, 3, sub.PaymentAttemptCount)
		require.Nil(t, sub.NextPaymentRetryAt)
		require.False(t, sub.RequiresClientUpdate)
		require.Equal(t, 3, calls[seeded.ID.String()], "gateway calls are capped")
	}
	require.Equal(t, int64(3), f.count(t, &models.LedgerEvent{}, "type", enums.LedgerEventAuthorizationFail))
}

func TestAuthorizeDeclineRequestsClientUpdate(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID, dbtest.SubOrderSeed{VendorID: vendor, GrossCents: 1000})
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendor)

	f.gateway.authorizeFn = func(square.HoldParams) (*square.Payment, error) {
		return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, "declined").
			WithDetails(map[string]any{"gateway_code": "INSUFFICIENT_FUNDS"})
	}
	outcome, err := f.svc.Authorize(context.Background(), f.client, subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusFailed, outcome.Status)
	require.Equal(t, "INSUFFICIENT_FUNDS", outcome.ErrorCode)

	sub := f.sub(t, subs[0].ID)
	require.True(t, sub.RequiresClientUpdate)
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type", enums.EventClientUpdateRequested))
}

func TestAuthorizeWithoutCardFails(t *testing.T) {
	f := newFixture(t)
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID, dbtest.SubOrderSeed{GrossCents: 1000})

	outcome, err := f.svc.Authorize(context.Background(), f.client, subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusFailed, outcome.Status)
	require.Equal(t, ErrCodePaymentMethodMissing, outcome.ErrorCode)
	require.Empty(t, f.gateway.holds)
}

func TestAuthorizationRacingCancelIsReleased(t *testing.T) {
	f := newFixture(t)
	vendor := uuid.New()
	order, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID, dbtest.SubOrderSeed{VendorID: vendor, GrossCents: 1000})
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendor)

	f.gateway.authorizeFn = func(params square.HoldParams) (*square.Payment, error) {
		require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusCanceled).Error)
		return &square.Payment{ID: "pay_late", Status: square.StatusApproved}, nil
	}
	_, err := f.svc.Authorize(context.Background(), f.client, subs[0].ID)
	require.NoError(t, err)

	require.Equal(t, []string{"pay_late"}, f.gateway.canceled)
	require.Equal(t, enums.PaymentStatusReleased, f.sub(t, subs[0].ID).PaymentStatus)
}

func TestReleaseRequiresOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusAuthorized, HoldRef: "pay_1"},
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusAuthorizedPendingCapture, HoldRef: "pay_2"},
	)

	_, err := f.svc.Release(ctx, f.client, subs[0].ID, "")
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	released, err := f.svc.Release(ctx, f.operator, subs[0].ID, "vendor out of stock")
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusReleased, released.PaymentStatus)
	require.Equal(t, []string{"pay_1"}, f.gateway.canceled)
	require.Equal(t, int64(1), f.count(t, &models.LedgerEvent{}, "type", enums.LedgerEventHoldReleased))

	// releasing twice is a no-op
	_, err = f.svc.Release(ctx, f.operator, subs[0].ID, "")
	require.NoError(t, err)
	require.Len(t, f.gateway.canceled, 1)

	_, err = f.svc.Release(ctx, f.operator, subs[1].ID, "")
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestReleaseKeepsHoldWhenGatewayFails(t *testing.T) {
	f := newFixture(t)
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusAuthorized, HoldRef: "pay_1"},
	)
	f.gateway.cancelFn = func(string) (*square.Payment, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway down")
	}
	err := f.svc.ReleaseForCancellation(context.Background(), subs[0].ID, "")
	require.Error(t, err)
	require.Equal(t, enums.PaymentStatusAuthorized, f.sub(t, subs[0].ID).PaymentStatus)
}

func TestReauthorizeUsesNewKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := uuid.New()
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{VendorID: vendor, GrossCents: 1000, PaymentStatus: enums.PaymentStatusFailed},
	)
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendor)

	outcome, err := f.svc.Reauthorize(ctx, f.operator, subs[0].ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusAuthorized, outcome.Status)
	require.Equal(t, "auth-"+subs[0].ID.String()+"-1", f.gateway.holds[0].IdempotencyKey)

	_, err = f.svc.Reauthorize(ctx, f.operator, subs[0].ID)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestExpireAuthorizations(t *testing.T) {
	f := newFixture(t)
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusAuthorized, HoldRef: "pay_old", ExpiresAt: &past},
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusAuthorized, HoldRef: "pay_new", ExpiresAt: &future},
	)

	n, err := f.svc.ExpireAuthorizations(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	expired := f.sub(t, subs[0].ID)
	require.Equal(t, enums.PaymentStatusFailed, expired.PaymentStatus)
	require.Equal(t, ErrCodeAuthorizationExpired, *expired.LastPaymentErrorCode)
	require.Equal(t, enums.PaymentStatusAuthorized, f.sub(t, subs[1].ID).PaymentStatus)
	require.Equal(t, int64(1), f.count(t, &models.LedgerEvent{}, "type", enums.LedgerEventAuthorizationLapse))
}

func TestSweepResetsStalePendingAuth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendor := uuid.New()
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{VendorID: vendor, GrossCents: 1000, PaymentStatus: enums.PaymentStatusPendingAuth},
	)
	dbtest.SeedPaymentSetup(t, f.db, f.client.UserID, vendor)

	result, err := f.svc.SweepAuthorizations(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Reset)
	require.Equal(t, 1, result.Authorized)
	require.Equal(t, enums.PaymentStatusAuthorized, f.sub(t, subs[0].ID).PaymentStatus)
}

func TestSweepSkipsUnconfirmedOrders(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedOrder(t, f.db, enums.OrderStatusPendingConfirmation, f.client.UserID, dbtest.SubOrderSeed{GrossCents: 1000})
	dbtest.SeedOrder(t, f.db, enums.OrderStatusCanceled, f.client.UserID, dbtest.SubOrderSeed{GrossCents: 1000})

	result, err := f.svc.SweepAuthorizations(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, result.Attempted)
	require.Empty(t, f.gateway.holds)
}

func paymentEvent(id, paymentID, status string) *WebhookEvent {
	return &WebhookEvent{
		EventID: id,
		Type:    "payment.updated",
		Data: WebhookData{
			Type:   "payment",
			ID:     paymentID,
			Object: WebhookObject{Payment: &WebhookPayment{ID: paymentID, Status: status}},
		},
	}
}

func TestHandleWebhookSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusCaptured, HoldRef: "pay_cap"},
	)

	require.NoError(t, f.svc.HandleWebhook(ctx, paymentEvent("evt_1", "pay_cap", "COMPLETED")))
	require.NoError(t, f.svc.HandleWebhook(ctx, paymentEvent("evt_2", "pay_cap", "COMPLETED")))

	sub := f.sub(t, subs[0].ID)
	require.NotNil(t, sub.SettledAt)
	require.Equal(t, "pay_cap", *sub.SettlementRef)
	require.Equal(t, int64(1), f.count(t, &models.LedgerEvent{}, "type", enums.LedgerEventPaymentSettled))

	require.NoError(t, f.svc.HandleWebhook(ctx, paymentEvent("evt_3", "pay_unknown", "COMPLETED")))
	require.NoError(t, f.svc.HandleWebhook(ctx, &WebhookEvent{EventID: "evt_4", Type: "refund.updated"}))
}

func TestHandleWebhookHoldInvalidated(t *testing.T) {
	f := newFixture(t)
	_, subs := dbtest.SeedOrder(t, f.db, enums.OrderStatusConfirmed, f.client.UserID,
		dbtest.SubOrderSeed{GrossCents: 1000, PaymentStatus: enums.PaymentStatusAuthorized, HoldRef: "pay_held"},
	)

	require.NoError(t, f.svc.HandleWebhook(context.Background(), paymentEvent("evt_1", "pay_held", "CANCELED")))

	sub := f.sub(t, subs[0].ID)
	require.Equal(t, enums.PaymentStatusFailed, sub.PaymentStatus)
	require.Equal(t, ErrCodeHoldInvalidated, *sub.LastPaymentErrorCode)
	require.True(t, sub.RequiresClientUpdate)

	// replay is harmless
	require.NoError(t, f.svc.HandleWebhook(context.Background(), paymentEvent("evt_1", "pay_held", "CANCELED")))
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type", enums.EventPaymentFailed))
}

type memoryStore struct {
	values map[string]any
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) { return "", nil }
func (m *memoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = value
	return nil
}
func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}
func (m *memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }
func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestWebhookGuard(t *testing.T) {
	store := &memoryStore{values: map[string]any{}}
	guard, err := NewWebhookGuard(store, time.Hour, "square")
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, seen)

	require.NoError(t, guard.Delete(ctx, "evt_1"))
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	require.False(t, seen)

	_, err = guard.CheckAndMark(ctx, "")
	require.Error(t, err)
	_, err = NewWebhookGuard(nil, time.Hour, "square")
	require.Error(t, err)
}
