package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/reconpoint/api/internal/app"
	"github.com/reconpoint/api/internal/config"
	infrahttp "github.com/reconpoint/api/internal/infra/http"
	"github.com/reconpoint/api/internal/infra/http/handler"
	"github.com/reconpoint/api/internal/infra/http/routes"
	"github.com/reconpoint/api/internal/infra/jobs"
	"github.com/reconpoint/api/internal/infra/notification"
	"github.com/reconpoint/api/internal/infra/postgres"
	"github.com/reconpoint/api/internal/infra/redis"
	"github.com/reconpoint/api/pkg/logger"
	"github.com/reconpoint/api/pkg/validator"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		log.Error("failed to create job client", "error", err)
		return 1
	}
	defer closeWithLog(jobClient, "job client", log)

	// ==========================================================================
	// Repositories & Stores
	// ==========================================================================
	scanRepo := postgres.NewScanRepository(db)
	activityRepo := postgres.NewActivityRepository(db)
	targetRepo := postgres.NewTargetRepository(db)
	webhookRepo := postgres.NewWebhookRepository(db)

	scanGuard := redis.NewScanGuard(redisClient)
	deliveryLog := redis.NewDeliveryLog(redisClient)
	log.Info("repositories initialized")

	// ==========================================================================
	// Services
	// ==========================================================================
	deliverer := notification.NewDeliverer(
		notification.RetryPolicy{
			MaxRetries: cfg.Webhook.MaxRetries,
			RetryDelay: cfg.Webhook.RetryDelay,
		},
		cfg.Webhook.RequestTimeout,
		deliveryLog,
		log,
	)

	scanService := app.NewScanService(scanRepo, activityRepo, targetRepo, scanGuard, jobClient, jobClient, log)
	targetService := app.NewTargetService(targetRepo, jobClient, log)
	webhookService := app.NewWebhookService(webhookRepo, deliveryLog, deliverer, cfg.Webhook.AllowPrivateURLs, log)
	log.Info("services initialized")

	// ==========================================================================
	// Background Workers
	// ==========================================================================
	// Tool adapters register themselves on the registry; a scan step with no
	// registered runner fails in the activity ledger, not the worker.
	registry := jobs.NewRegistry()

	worker := jobs.NewWorker(
		jobs.WorkerConfig{
			RedisAddr:            cfg.Redis.Addr(),
			RedisPassword:        cfg.Redis.Password,
			RedisDB:              cfg.Redis.DB,
			Concurrency:          cfg.Worker.Concurrency,
			ScanQueuePriority:    cfg.Worker.ScanQueuePriority,
			WebhookQueuePriority: cfg.Worker.WebhookQueuePriority,
		},
		log,
		jobs.WithScanHandler(jobs.NewScanTaskHandler(registry, scanService, log)),
		jobs.WithWebhookHandler(jobs.NewWebhookTaskHandler(webhookRepo, deliverer, jobClient, log)),
	)
	if err := worker.Start(); err != nil {
		log.Error("failed to start job worker", "error", err)
		return 1
	}
	log.Info("job worker started", "concurrency", cfg.Worker.Concurrency)

	// Stale-scan watchdog: fails running scans that stopped reporting.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Scan.WatchdogSchedule, func() {
		if _, err := scanService.FailStaleScans(ctx, cfg.Scan.StaleAfter); err != nil {
			log.Error("stale scan sweep failed", "error", err)
		}
	}); err != nil {
		log.Error("failed to schedule stale scan watchdog", "error", err, "schedule", cfg.Scan.WatchdogSchedule)
		return 1
	}
	scheduler.Start()
	log.Info("stale scan watchdog scheduled", "schedule", cfg.Scan.WatchdogSchedule)

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	v := validator.New()
	server := infrahttp.NewServer(cfg, log)

	routes.Register(server.Router(), routes.Handlers{
		Health:  handler.NewHealthHandler(db, redisClient, log),
		Target:  handler.NewTargetHandler(targetService, v, log),
		Scan:    handler.NewScanHandler(scanService, v, log),
		Webhook: handler.NewWebhookHandler(webhookService, v, log),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
			return 1
		}
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	worker.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shut down server", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

func initLogger(cfg *config.Config) *logger.Logger {
	logCfg := logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}
	if cfg.IsDevelopment() && cfg.Log.Format == "" {
		logCfg.Format = "text"
	}
	return logger.New(logCfg)
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
