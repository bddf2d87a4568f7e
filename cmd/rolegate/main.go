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

	"github.com/rolegate/rolegate/internal/app"
	"github.com/rolegate/rolegate/internal/identity"
	"github.com/rolegate/rolegate/internal/observability"
	"github.com/rolegate/rolegate/internal/platform/cache"
	"github.com/rolegate/rolegate/internal/platform/db"
	"github.com/rolegate/rolegate/internal/rbac"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := rbac.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

	store := rbac.NewStore(repo, repo, logger)
	table := rbac.NewTable()
	registry := rbac.NewRegistry(table, repo, store, logger)
	engine := rbac.NewEngine(repo, repo, registry, logger)

	var (
		accessEngine rbac.AccessEngine = engine
		invalidate   func(context.Context)
	)
	if cfg.DecisionCacheEnabled {
		cached := rbac.NewCachedEngine(engine, rbac.NewDecisionCache(redisClient, cfg.DecisionCacheTTL), logger)
		accessEngine = cached
		invalidate = cached.Invalidate
	}

	metrics := observability.NewMetrics()
	tokens := identity.NewTokenStore(redisClient, cfg.TokenTTL)
	guard := rbac.Middleware{
		Engine:  accessEngine,
		Source:  tokens,
		Logger:  logger,
		Observe: func(d rbac.Decision) { metrics.RecordDecision(d.Allowed) },
	}
	handler := rbac.NewHandler(logger, store, repo, guard, invalidate)
	if err := handler.DeclarePermissions(table); err != nil {
		logger.Error("declare permissions", slog.Any("error", err))
		os.Exit(1)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Metrics:     metrics,
		RBACHandler: handler,
	})
	if err := table.CollectRoutes(router); err != nil {
		logger.Error("collect routes", slog.Any("error", err))
		os.Exit(1)
	}

	if _, err := registry.Reconcile(ctx); err != nil {
		logger.Error("reconcile permissions", slog.Any("error", err))
		os.Exit(1)
	}

	boot := rbac.NewGuard(repo, repo, store, logger)
	if err := boot.RunOnce(ctx, defaultRoles()); err != nil {
		logger.Error("bootstrap default roles", slog.Any("error", err))
		os.Exit(1)
	}

	if invalidate != nil {
		invalidate(ctx)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}

// defaultRoles is the role set seeded on a store's first boot. The
// dynamic:unauthorized role must be present for anonymous access checks;
// granting it nothing means anonymous callers only reach uncovered routes
// once an operator attaches the dynamic:uncovered permission to it.
func defaultRoles() []rbac.DefaultRole {
	return []rbac.DefaultRole{
		{
			Name:            rbac.UnauthorizedRoleName,
			Title:           "Unauthorized",
			Description:     "Callers without an identity.",
			PermissionNames: []string{rbac.UncoveredPermissionName},
		},
		{
			Name:        "admin",
			Title:       "Administrator",
			Description: "Full control over the access graph.",
			PermissionNames: []string{
				"get:role", "create:role", "update:role", "delete:role", "get:permission",
			},
		},
	}
}
