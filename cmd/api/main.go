package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aspyhq/aspy-backend/api/routes"
	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/internal/payments"
	"github.com/aspyhq/aspy-backend/internal/subscriptions"
	gatewaywebhook "github.com/aspyhq/aspy-backend/internal/webhooks/gateway"
	"github.com/aspyhq/aspy-backend/pkg/config"
	"github.com/aspyhq/aspy-backend/pkg/db"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
	"github.com/aspyhq/aspy-backend/pkg/instance"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/metrics"
	"github.com/aspyhq/aspy-backend/pkg/migrate"
	"github.com/aspyhq/aspy-backend/pkg/outbox"
	"github.com/aspyhq/aspy-backend/pkg/redis"
)

const (
	webhookGuardScope = "gateway-webhook"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gw, err := gateway.New(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to configure payment gateway", err)
		os.Exit(1)
	}
	if cfg.App.IsProd() && gw.Mode() == gateway.ModeMock {
		logg.Warn(context.Background(), "mock payment gateway enabled in production")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := metrics.NewBillingMetrics(registry)

	repo := billing.NewRepository(dbClient.DB())
	machine := subscriptions.NewMachine(cfg.Billing.Period())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	finalizer, err := payments.NewFinalizer(payments.FinalizerParams{
		Repo:     repo,
		Machine:  machine,
		TxRunner: dbClient,
		Outbox:   outboxService,
		Metrics:  billingMetrics,
		Logger:   logg,
	})
	exitOnErr(logg, "failed to create payment finalizer", err)

	orderService, err := payments.NewOrderService(payments.OrderServiceParams{
		Repo:           repo,
		Gateway:        gw,
		NativeCurrency: cfg.Gateway.NativeCurrency,
		Metrics:        billingMetrics,
		Logger:         logg,
	})
	exitOnErr(logg, "failed to create order service", err)

	verificationService, err := payments.NewVerificationService(payments.VerificationServiceParams{
		Repo:      repo,
		Gateway:   gw,
		Finalizer: finalizer,
		Metrics:   billingMetrics,
		Logger:    logg,
	})
	exitOnErr(logg, "failed to create verification service", err)

	historyService, err := payments.NewHistoryService(repo, cfg.Gateway.NativeCurrency)
	exitOnErr(logg, "failed to create payment history service", err)

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:     repo,
		Machine:  machine,
		TxRunner: dbClient,
		Outbox:   outboxService,
		Logger:   logg,
	})
	exitOnErr(logg, "failed to create subscription service", err)

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Finalizer: finalizer,
		Logger:    logg,
	})
	exitOnErr(logg, "failed to create webhook service", err)

	webhookGuard, err := gatewaywebhook.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookIdempotentTTL, webhookGuardScope)
	exitOnErr(logg, "failed to create webhook idempotency guard", err)

	if cfg.Gateway.WebhookSecret == "" {
		logg.Warn(context.Background(), "gateway webhook secret not configured; webhooks will be rejected")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"instance":     instance.GetID(),
		"gateway_mode": gw.Mode(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			billingMetrics,
			orderService,
			verificationService,
			historyService,
			subscriptionService,
			webhookService,
			webhookGuard,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func exitOnErr(logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}
