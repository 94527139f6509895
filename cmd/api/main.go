package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk/internal/api/http"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Logger.Service == "" {
		cfg.Logger.Service = cfg.App.Name
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
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	messageRepo := repository.NewTicketMessageRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)

	if cfg.Postgres.SeedDemoData {
		if err := service.SeedDemoData(ctx, service.SeedDependencies{
			UserRepo:     userRepo,
			TicketRepo:   ticketRepo,
			MessageRepo:  messageRepo,
			PasswordCost: cfg.Desk.SeedPasswordCost,
			Logger:       logger,
		}); err != nil {
			logger.Fatal("failed to seed demo data", zap.Error(err))
		}
	}

	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(ctx, notificationService)

	authService := service.NewAuthService(*cfg, userRepo, logger)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		UserRepo:    userRepo,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	historyService := service.NewHistoryService(historyRepo, ticketService, logger)
	historyService.RegisterHandlers(dispatcher)
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), authService)

	metrics := observability.NewMetrics("helpdesk_api")
	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService, historyService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
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
