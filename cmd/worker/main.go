package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gateway/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-gateway/internal/jobs"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
	"github.com/odyssey-erp/odyssey-gateway/internal/webhook"
	"github.com/odyssey-erp/odyssey-gateway/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queue, err := jobs.NewClient(redisOpts, cfg.WebhookQueueRetries())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	webhooks := webhook.NewService(webhook.Deps{
		Store:       webhook.NewPostgresStore(pool),
		Subscribers: webhook.NewPostgresSubscribers(pool),
		Deliverer:   webhook.NewHTTPDeliverer(nil, ""),
		Queue:       queue,
		Locker:      webhook.NewRedisLocker(redisClient),
		Observer:    metrics,
		Logger:      logger,
	}, webhook.Config{
		MaxAttempts: cfg.WebhookMaxAttempts,
		Timeout:     cfg.WebhookTimeout,
		BackoffBase: cfg.WebhookBackoffBase,
		BackoffMax:  cfg.WebhookBackoffMax,
		SweepAfter:  cfg.WebhookSweepAfter,
	})
	webhookJob := jobs.NewWebhookJob(webhooks, logger, metrics)
	pruneJob := jobs.NewIdempotencyPruneJob(shared.NewIdempotencyStore(pool), cfg.IdempotencyRetention, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		RetryDelay:  jobs.DeliveryRetryDelay(cfg.WebhookBackoffBase, cfg.WebhookBackoffMax),
		Handlers:    append(webhookJob.Handlers(), pruneJob.Handler()),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WebhookSweepCron, Task: jobs.NewWebhookSweepTask(), Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(1)}},
			{Spec: cfg.IdempotencyPruneCron, Task: jobs.NewIdempotencyPruneTask(), Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
