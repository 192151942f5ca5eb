package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/imagestudio-ai/imagestudio/internal/api"
	"github.com/imagestudio-ai/imagestudio/internal/audit"
	"github.com/imagestudio-ai/imagestudio/internal/auth"
	"github.com/imagestudio-ai/imagestudio/internal/catalog"
	"github.com/imagestudio-ai/imagestudio/internal/config"
	"github.com/imagestudio-ai/imagestudio/internal/database"
	"github.com/imagestudio-ai/imagestudio/internal/events"
	"github.com/imagestudio-ai/imagestudio/internal/generation"
	"github.com/imagestudio-ai/imagestudio/internal/middleware"
	"github.com/imagestudio-ai/imagestudio/internal/quota"
	iredis "github.com/imagestudio-ai/imagestudio/internal/redis"
	"github.com/imagestudio-ai/imagestudio/internal/server"
	"github.com/imagestudio-ai/imagestudio/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS JetStream
	eventsClient, err := events.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connecting to NATS", "error", err)
		os.Exit(1)
	}
	defer eventsClient.Close()

	publisher := events.NewPublisher(eventsClient.JetStream())
	consumerMgr := events.NewConsumerManager(eventsClient.JetStream())

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc)

	// Quota accounting
	quotaRepo := quota.NewRepository(pool)
	quotaSvc := quota.NewService(quotaRepo)
	quotaHandler := quota.NewHandler(quotaSvc)

	// Catalog
	catalogRepo := catalog.NewRepository(pool)
	catalogSvc := catalog.NewService(catalogRepo, publisher)
	catalogHandler := catalog.NewHandler(catalogSvc, quotaSvc)

	// Generations
	generationRepo := generation.NewRepository(pool)
	generationSvc := generation.NewService(generationRepo, quotaSvc, catalogSvc, publisher)
	generationHandler := generation.NewHandler(generationSvc)

	// Audit trail
	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)

	// Background consumers
	usageConsumer := generation.NewUsageConsumer(generationRepo, quotaSvc, consumerMgr)
	go func() {
		if err := usageConsumer.Start(ctx); err != nil {
			slog.Error("usage consumer stopped", "error", err)
		}
	}()

	auditConsumer := audit.NewConsumer(auditRepo, consumerMgr)
	go func() {
		if err := auditConsumer.Start(ctx); err != nil {
			slog.Error("audit consumer stopped", "error", err)
		}
	}()

	authLimiter := middleware.NewRateLimiter(redisClient, cfg.RateLimit.AuthMaxRequests, cfg.RateLimit.AuthWindowSec)

	// Router
	router := api.NewRouter(pool, eventsClient,
		api.RouterConfig{
			CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
			AuthRateLimiter:    authLimiter.Middleware,
		},
		api.HandlerSet{
			Register: authHandler.Register,
			Login:    authHandler.Login,
			Refresh:  authHandler.Refresh,
			Logout:   authHandler.Logout,

			ListModels: catalogHandler.ListModels,

			GetQuotaStatus: quotaHandler.GetStatus,
			GetModelQuota:  quotaHandler.GetModelQuota,

			CreateGeneration: generationHandler.Create,
			ListGenerations:  generationHandler.List,
			GetGeneration:    generationHandler.Get,

			ListTiers:     catalogHandler.ListTiers,
			CreateTier:    catalogHandler.CreateTier,
			DeleteTier:    catalogHandler.DeleteTier,
			AdminModels:   catalogHandler.AdminListModels,
			CreateModel:   catalogHandler.CreateModel,
			UpdateModel:   catalogHandler.UpdateModel,
			SetAccess:     catalogHandler.SetAccess,
			SetLimits:     catalogHandler.SetLimits,
			ListAuditLogs: auditHandler.List,

			AuthMiddleware:  auth.Middleware(authSvc),
			AdminMiddleware: auth.RequireAdmin(userSvc),
		})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
