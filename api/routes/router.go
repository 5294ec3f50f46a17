package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fulfillment-engine/api/controllers"
	deliverycontrollers "github.com/angelmondragon/fulfillment-engine/api/controllers/deliveries"
	ordercontrollers "github.com/angelmondragon/fulfillment-engine/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/fulfillment-engine/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/fulfillment-engine/api/controllers/webhooks"
	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	"github.com/angelmondragon/fulfillment-engine/internal/capture"
	"github.com/angelmondragon/fulfillment-engine/internal/deliveries"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	pkgredis "github.com/angelmondragon/fulfillment-engine/pkg/redis"
)

type pinger interface {
	Ping(context.Context) error
}

type webhookSigner interface {
	SigningSecret() string
	NotificationURL() string
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Services groups the domain services mounted by the router.
type Services struct {
	Orders     orders.Service
	Payments   payments.Service
	Capture    capture.Service
	Deliveries deliveries.Service
	Ledger     ledger.Service
}

// NewRouter builds the HTTP handler tree.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger pinger,
	redisClient interface {
		pinger
		pkgredis.IdempotencyStore
	},
	svcs Services,
	squareClient webhookSigner,
	guard webhookGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(logg))
	r.Use(middleware.RequestID(logg))
	r.Use(middleware.Logging(logg))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	r.Get("/health/live", controllers.HealthLive(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
		"database": dbPinger,
		"redis":    redisClient,
	}))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	operator := middleware.RequireRole(logg, enums.RoleOperator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/square", webhookcontrollers.SquareWebhook(svcs.Payments, squareClient, guard, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(redisClient, logg))

			r.Get("/me", controllers.WhoAmI(logg))

			r.Route("/orders", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleClient, enums.RoleOperator))
				r.Post("/", ordercontrollers.Create(svcs.Orders, logg))
				r.Get("/", ordercontrollers.List(svcs.Orders, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(svcs.Orders, logg))
				r.Post("/{orderId}/confirm", ordercontrollers.Confirm(svcs.Orders, logg))
				r.Post("/{orderId}/cancel", ordercontrollers.Cancel(svcs.Orders, logg))
			})

			r.Route("/deliveries", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleCourier, enums.RoleOperator))
				r.Get("/mine", deliverycontrollers.Mine(svcs.Deliveries, logg))
				r.Get("/{deliveryId}", deliverycontrollers.Detail(svcs.Deliveries, logg))
				r.Post("/{deliveryId}/pickup", deliverycontrollers.Pickup(svcs.Deliveries, logg))
				r.Post("/{deliveryId}/transit", deliverycontrollers.Transit(svcs.Deliveries, logg))
				r.Post("/{deliveryId}/deliver", deliverycontrollers.Deliver(svcs.Deliveries, logg))
				r.Post("/{deliveryId}/exception", deliverycontrollers.Exception(svcs.Deliveries, logg))
			})

			r.Route("/ops", func(r chi.Router) {
				r.Use(operator)

				r.Post("/deliveries", deliverycontrollers.Assign(svcs.Deliveries, logg))
				r.Post("/deliveries/{deliveryId}/reassign", deliverycontrollers.Reassign(svcs.Deliveries, logg))

				r.Post("/orders/{orderId}/authorize", paymentcontrollers.AuthorizeOrder(svcs.Payments, logg))
				r.Post("/orders/{orderId}/archive", ordercontrollers.Archive(svcs.Orders, logg))

				r.Route("/sub-orders/{subOrderId}", func(r chi.Router) {
					r.Post("/authorize", paymentcontrollers.Authorize(svcs.Payments, logg))
					r.Post("/reauthorize", paymentcontrollers.Reauthorize(svcs.Payments, logg))
					r.Post("/release", paymentcontrollers.Release(svcs.Payments, logg))
					r.Get("/ledger", paymentcontrollers.LedgerHistory(svcs.Ledger, logg))
					r.Post("/capture", paymentcontrollers.RetryNow(svcs.Capture, logg))
					r.Post("/requires-client-update", paymentcontrollers.MarkRequiresClientUpdate(svcs.Capture, logg))
					r.Delete("/requires-client-update", paymentcontrollers.ClearRequiresClientUpdate(svcs.Capture, logg))
				})

				r.Get("/payments/attention", paymentcontrollers.AttentionQueue(svcs.Capture, logg))
			})
		})
	})

	return r
}
