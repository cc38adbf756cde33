package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgutierrez-ams/orderflow-backend/internal/catalog"
	"github.com/dgutierrez-ams/orderflow-backend/internal/jobs"
	"github.com/dgutierrez-ams/orderflow-backend/internal/notifications"
	"github.com/dgutierrez-ams/orderflow-backend/internal/orders"
	"github.com/dgutierrez-ams/orderflow-backend/internal/reservation"
	"github.com/dgutierrez-ams/orderflow-backend/internal/stockledger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/cache"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/env"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/metrics"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/queue"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	cacheStore, err := cache.NewStore(redisClient, cfg.Cache, logg)
	if err != nil {
		logg.Error(ctx, "failed to create cache store", err)
		os.Exit(1)
	}

	jobQueue, err := queue.New(redisClient, cfg.Queue, logg)
	if err != nil {
		logg.Error(ctx, "failed to create job queue", err)
		os.Exit(1)
	}

	ledgerRepo := stockledger.NewRepository(dbClient.DB())
	ledgerService, err := stockledger.NewService(ledgerRepo, dbClient, cacheStore, cfg.Stock)
	if err != nil {
		logg.Error(ctx, "failed to create stock ledger", err)
		os.Exit(1)
	}

	reservationService, err := reservation.NewService(ledgerService)
	if err != nil {
		logg.Error(ctx, "failed to create reservation service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:        orders.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		Catalog:     catalog.NewRepository(dbClient.DB()),
		Reservation: reservationService,
		Queue:       jobQueue,
		Cache:       cacheStore,
		Logger:      logg,
		Stock:       cfg.Stock,
	})
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create notifications service", err)
		os.Exit(1)
	}

	registry := jobs.NewRegistry()
	gateway := jobs.SimulatedGateway{}

	processHandler, err := jobs.NewProcessOrderHandler(ordersService, gateway, logg)
	if err != nil {
		logg.Error(ctx, "failed to create process order handler", err)
		os.Exit(1)
	}
	shipHandler, err := jobs.NewShipOrderHandler(ordersService, logg)
	if err != nil {
		logg.Error(ctx, "failed to create ship order handler", err)
		os.Exit(1)
	}
	notifyHandler, err := jobs.NewNotifyOrderHandler(ordersService, notificationsService)
	if err != nil {
		logg.Error(ctx, "failed to create notify order handler", err)
		os.Exit(1)
	}
	reorderHandler, err := jobs.NewReorderCheckHandler(ledgerService, notificationsService, logg)
	if err != nil {
		logg.Error(ctx, "failed to create reorder check handler", err)
		os.Exit(1)
	}
	for _, handler := range []jobs.Handler{processHandler, shipHandler, notifyHandler, reorderHandler} {
		if err := registry.Register(handler); err != nil {
			logg.Error(ctx, "failed to register job handler", err)
			os.Exit(1)
		}
	}

	promRegistry := prometheus.NewRegistry()
	jobMetrics := metrics.NewJobMetrics(promRegistry)

	pool, err := jobs.NewPool(jobs.PoolParams{
		Queue:    jobQueue,
		Registry: registry,
		Orders:   ordersService,
		Metrics:  jobMetrics,
		Logger:   logg,
		Config:   cfg.Queue,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker pool", err)
		os.Exit(1)
	}

	metricsAddr := env.Get("WORKER_METRICS_ADDR", ":9090")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux(promRegistry)}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = metricsServer.Close()
	}()

	go runReorderScheduler(ctx, cfg, redisClient, jobQueue, logg)
	go runOrderReconciler(ctx, cfg, redisClient, ordersService, logg)

	startCtx := logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"workers": cfg.Queue.Workers,
	})
	logg.Info(startCtx, "starting worker pool")

	pool.Run(ctx)
	logg.Info(ctx, "worker shut down gracefully")
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
