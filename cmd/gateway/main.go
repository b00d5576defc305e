package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gateway/internal/app"
	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/gateway"
	jobmetrics "github.com/odyssey-erp/odyssey-gateway/internal/jobs"
	"github.com/odyssey-erp/odyssey-gateway/internal/license"
	"github.com/odyssey-erp/odyssey-gateway/internal/observability"
	"github.com/odyssey-erp/odyssey-gateway/internal/permission"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gateway/internal/routes"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
	"github.com/odyssey-erp/odyssey-gateway/internal/webhook"
	"github.com/odyssey-erp/odyssey-gateway/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "gateway")

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("gateway"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	roleRegistry := permission.NewRegistry(permission.NewPostgresRoleSource(dbpool), logger)
	if err := roleRegistry.Reload(ctx); err != nil {
		logger.Error("load role catalog", slog.Any("error", err))
		os.Exit(1)
	}
	go roleRegistry.Run(ctx, cfg.RolesReloadInterval)

	licenses := license.NewService(license.NewPostgresSource(dbpool), license.NewResolver(roleRegistry, logger))

	var routeSource routes.Source = routes.NewPostgresSource(dbpool)
	if cfg.RoutesFile != "" {
		routeSource = routes.FileSource{Path: cfg.RoutesFile}
	}
	routeTable := routes.NewTable()
	reloader := routes.NewReloader(routeTable, routeSource, func() routes.GroupChecker { return roleRegistry.Catalog() }, logger)
	if _, err := reloader.Reload(ctx); err != nil {
		logger.Error("load routes", slog.Any("error", err))
		os.Exit(1)
	}
	if err := reloader.Listen(ctx, redisClient, cfg.RoutesReloadChannel); err != nil {
		logger.Warn("route reload subscription", slog.Any("error", err))
	}
	go reloader.Run(ctx, cfg.RoutesReloadInterval)

	sessions := auth.NewSessionStore(redisClient, cfg.SessionPrefix, cfg.SessionTTL)
	jwtVerifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLeeway)
	authService := auth.NewService(jwtVerifier, sessions, auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, jwtVerifier, sessions, cfg.SessionCookie, cfg.IsProduction())

	dispatcher := gateway.NewDispatcher(authService, licenses, routeTable, logger, metrics)
	forwarder := gateway.NewForwarder(gateway.ForwarderConfig{
		ProfileHeader: cfg.ProfileHeader,
		SessionCookie: cfg.SessionCookie,
		FlushInterval: -1,
		Logger:        logger,
	})

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
	webhooks := webhook.NewService(webhook.Deps{
		Store:       webhook.NewPostgresStore(dbpool),
		Subscribers: webhook.NewPostgresSubscribers(dbpool),
		Deliverer:   webhook.NewHTTPDeliverer(nil, ""),
		Queue:       queue,
		Locker:      webhook.NewRedisLocker(redisClient),
		Observer:    jobMetrics,
		Logger:      logger,
	}, webhook.Config{
		MaxAttempts: cfg.WebhookMaxAttempts,
		Timeout:     cfg.WebhookTimeout,
		BackoffBase: cfg.WebhookBackoffBase,
		BackoffMax:  cfg.WebhookBackoffMax,
		SweepAfter:  cfg.WebhookSweepAfter,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Metrics:     metrics,
		AuthHandler: authHandler,
		RoutesHandler: routes.NewHandler(routeTable, reloader, routes.NewProber(nil, 0), func(ctx context.Context) error {
			return routes.Notify(ctx, redisClient, cfg.RoutesReloadChannel)
		}, logger),
		WebhookHandler: webhook.NewHandler(webhooks, shared.NewIdempotencyStore(dbpool), logger),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Operators:      gateway.Middleware{Verifier: authService, SessionCookie: cfg.SessionCookie, Auditor: shared.NewAuditLogger(dbpool), Logger: logger},
		Gateway:        gateway.NewHandler(dispatcher, forwarder, cfg.SessionCookie),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		ReadTimeout:       cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("gateway listening", slog.String("addr", cfg.AppAddr), slog.Int("routes", len(routeTable.Snapshot().Routes())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
