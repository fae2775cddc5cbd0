package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aspyhq/aspy-backend/api/controllers"
	paymentcontrollers "github.com/aspyhq/aspy-backend/api/controllers/payments"
	subscriptioncontrollers "github.com/aspyhq/aspy-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/aspyhq/aspy-backend/api/controllers/webhooks"
	"github.com/aspyhq/aspy-backend/api/middleware"
	gatewaywebhook "github.com/aspyhq/aspy-backend/internal/webhooks/gateway"
	"github.com/aspyhq/aspy-backend/pkg/config"
	"github.com/aspyhq/aspy-backend/pkg/db"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/metrics"
	"github.com/aspyhq/aspy-backend/pkg/redis"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	metricsHandler http.Handler,
	billingMetrics *metrics.BillingMetrics,
	orderService paymentcontrollers.OrderCreator,
	verificationService paymentcontrollers.PaymentVerifier,
	historyService paymentcontrollers.HistoryReader,
	subscriptionsService subscriptioncontrollers.Service,
	webhookService webhookcontrollers.GatewayWebhookService,
	webhookGuard *gatewaywebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// A nil *redis.Client must not reach the middleware as a non-nil interface.
	var (
		idempotencyStore redis.IdempotencyStore
		limiter          rateLimiter
		readiness        = map[string]controllers.Pinger{}
	)
	if redisClient != nil {
		idempotencyStore = redisClient
		limiter = redisClient
		readiness["redis"] = redisClient
	}
	if dbP != nil {
		readiness["db"] = dbP
	}
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	orderPolicy := middleware.NewRateLimitPolicy(
		"orders",
		cfg.RateLimit.OrdersPerWindow,
		cfg.RateLimit.Window,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		var guard interface {
			CheckAndMark(context.Context, string) (bool, error)
			Delete(context.Context, string) error
		}
		if webhookGuard != nil {
			guard = webhookGuard
		}
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(webhookService, cfg.Gateway.WebhookSecret, guard, billingMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.RateLimit(orderPolicy, limiter, logg)).Post("/order", paymentcontrollers.CreateOrder(orderService, logg))
			r.Post("/verify", paymentcontrollers.Verify(verificationService, logg))
			r.Get("/history", paymentcontrollers.History(historyService, logg))
			r.Get("/methods", paymentcontrollers.Methods(historyService, logg))
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/me", subscriptioncontrollers.Current(subscriptionsService, logg))
			r.Post("/cancel", subscriptioncontrollers.Cancel(subscriptionsService, logg))
		})
	})

	return r
}
