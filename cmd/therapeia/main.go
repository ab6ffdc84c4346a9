package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	router "github.com/rezwanahammad/Therapeia/internal/app"
	"github.com/rezwanahammad/Therapeia/internal/database"
	"github.com/rezwanahammad/Therapeia/internal/events"
	"github.com/rezwanahammad/Therapeia/internal/idempotency"
	"github.com/rezwanahammad/Therapeia/internal/logger"
	"github.com/rezwanahammad/Therapeia/internal/metrics"
	"github.com/rezwanahammad/Therapeia/internal/models"
	"github.com/rezwanahammad/Therapeia/internal/services"
	"github.com/rezwanahammad/Therapeia/internal/utils"
)

func main() {
	config := NewConfig()

	if err := logger.Initialize(config.logLevel, config.env); err != nil {
		log.Fatalf("Logger wasn't initialized due to %s", err)
	}
	defer logger.Log.Sync() //nolint:errcheck

	ctx, cancel := utils.HandleTerminationProcess(context.Background(), func() {
		logger.Log.Info("shutting down")
	})
	defer cancel()

	db, err := database.New(ctx, config.dsn)
	if err != nil {
		logger.Log.Fatal("database wasn't initialized", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Log.Fatal("migrations weren't run", zap.Error(err))
	}

	var idempotencyStore models.IdempotencyStore
	if config.redisAddress != "" {
		store := idempotency.NewStore(redis.NewClient(&redis.Options{Addr: config.redisAddress}), idempotency.DefaultTTL)
		if err := store.Ping(ctx); err != nil {
			logger.Log.Warn("redis is unavailable, idempotency keys are not checked until it recovers", zap.Error(err))
		}
		defer store.Close()
		idempotencyStore = store
	}

	// Задания дорабатывают после остановки сервера, поэтому их контекст не отменяется сигналом.
	jobQueueService := services.NewJobQueueService(context.WithoutCancel(ctx), 100, config.jobWorkers)
	defer jobQueueService.Shutdown()

	statusFeed := events.NewOrderFeed(events.NewBus[models.StatusEvent]())
	appMetrics := metrics.New()

	orderService := services.NewOrderService(db, db, statusFeed, jobQueueService, appMetrics)

	err = router.New(
		router.Config{
			Endpoint:     config.endpoint,
			StreamLimit:  config.streamLimit,
			StreamBuffer: config.streamBuffer,
		},
		services.NewJWTService(config.authSecretKey),
		orderService,
		statusFeed,
		idempotencyStore,
		appMetrics,
	).Run(ctx)
	if err != nil {
		logger.Log.Error("server stopped with error", zap.Error(err))
	}
}
