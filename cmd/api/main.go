package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/workflow-service/internal/api/http"
	"github.com/spec-kit/workflow-service/internal/api/http/handlers"
	"github.com/spec-kit/workflow-service/internal/auth"
	"github.com/spec-kit/workflow-service/internal/config"
	"github.com/spec-kit/workflow-service/internal/events"
	"github.com/spec-kit/workflow-service/internal/observability"
	"github.com/spec-kit/workflow-service/internal/persistence"
	"github.com/spec-kit/workflow-service/internal/repository"
	"github.com/spec-kit/workflow-service/internal/service"
	"github.com/spec-kit/workflow-service/internal/worker"
	"github.com/spec-kit/workflow-service/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	workflowRepo := repository.NewWorkflowRepository(pool)
	ticketRepo := repository.NewTicketStateRepository(pool)
	parallelRepo := repository.NewParallelRepository(pool)
	permissionRepo := repository.NewPermissionRepository(pool)
	holidayRepo := repository.NewHolidayRepository(pool)
	directoryRepo := repository.NewDirectoryRepository(pool)
	fieldRepo := repository.NewFieldValueRepository(pool)

	permissionCache := auth.NewPermissionCache(permissionRepo)
	if err := permissionCache.RefreshAll(ctx); err != nil {
		logger.Warn("permission cache warm-up failed; falling back to lazy loads", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	resolver := workflow.NewResolver(directoryRepo, fieldRepo)
	coordinator := workflow.NewCoordinator(parallelRepo)

	var locker service.TicketLocker = service.NewMemoryTicketLocker()
	if cfg.Redis.Addr != "" {
		locker = service.NewRedisTicketLocker(redis.Client)
	}

	advancementService := service.NewAdvancementService(cfg.Workflow, service.AdvancementDependencies{
		TicketRepo:   ticketRepo,
		WorkflowRepo: workflowRepo,
		HolidayRepo:  holidayRepo,
		Resolver:     resolver,
		Parallel:     coordinator,
		Locker:       locker,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	permissionService := service.NewPermissionService(permissionRepo, permissionCache, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager, directoryRepo)

	metrics := observability.NewMetrics()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:          handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:            handlers.NewAuthHandler(tokenManager, directoryRepo),
		Workflow:        handlers.NewWorkflowHandler(advancementService),
		Permissions:     handlers.NewPermissionsHandler(permissionService),
		AuthMiddleware:  authMiddleware,
		PermissionCache: permissionCache,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
