/**
 * @description
 * This is the main entry point for the delivery-service.
 * It initializes and wires together all the components of the application:
 * configuration, database connection, repository, service, message broker
 * producer and consumer, the abuse sweep scheduler, and the HTTP router.
 * Finally, it starts the HTTP server to listen for incoming requests.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kitestore/delivery-service/internal/api"
	"github.com/kitestore/delivery-service/internal/app"
	"github.com/kitestore/delivery-service/internal/config"
	"github.com/kitestore/delivery-service/internal/store"
	"github.com/kitestore/delivery-service/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolCfg.MaxConns = 100
	poolCfg.MinConns = 20
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// The abuse signal channel is advisory; fall back to a no-op publisher
	// when the broker is unreachable at startup.
	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq unavailable, abuse signals will be dropped", "error", err)
			producer = &rabbitmq.EventProducerFallback{}
		} else {
			producer = p
		}
	} else {
		producer = &rabbitmq.EventProducerFallback{}
	}
	defer producer.Close()

	// Optional Redis for redemption rate limiting.
	var limiter *app.RedisRedeemRateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		limiter = app.NewRedisRedeemRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		logger.Info("redis rate limiting enabled")
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, producer, app.Options{
		ExpiryOffset:      time.Duration(cfg.EntitlementExpiryHours) * time.Hour,
		MaxUses:           cfg.EntitlementMaxUses,
		RegenerationLimit: cfg.RegenerationLimit,
		FileAccessTTL:     time.Duration(cfg.FileAccessTTLSeconds) * time.Second,
		AllowAnonymous:    cfg.AllowAnonymousRedemption,
		AbuseWindow:       time.Duration(cfg.AbuseWindowHours) * time.Hour,
		AbuseThreshold:    cfg.AbuseOriginThreshold,
		AbuseExchange:     cfg.AbuseSignalExchange,
		SweepPageSize:     cfg.AbuseSweepPageSize,
	})
	handler := api.NewHandler(service, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		JWKSURL:                  cfg.JWKSURL,
		InternalAPIKey:           cfg.InternalAPIKey,
		RateLimiter:              limiter,
		RedeemRateLimitPerMinute: cfg.RedeemRateLimitPerMinute,
	})

	// Consume order fulfillment events that trigger issuance.
	if cfg.RabbitMQURL != "" {
		go func() {
			consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
			if err != nil {
				logger.Warn("rabbitmq consumer unavailable, issuance runs via HTTP only", "error", err)
				return
			}
			defer consumer.Close()

			eventHandler := app.NewFulfillmentEventHandler(service)
			if err := consumer.Consume(
				cfg.FulfillmentEventExchange,
				cfg.FulfillmentEventQueue,
				"order.payment.completed",
				eventHandler.HandleOrderPaymentCompleted,
			); err != nil {
				logger.Error("fulfillment consumer stopped", "error", err)
			}
		}()
	}

	// Periodic abuse sweep.
	scheduler := app.NewScheduler(service, logger, cfg.AbuseSweepSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Create a context with a timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Attempt to gracefully shut down the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
