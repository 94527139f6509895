package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk/internal/api/http"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/remote"
	"github.com/spec-kit/helpdesk/internal/sequence"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/store"
	"github.com/spec-kit/helpdesk/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Logger.Service == "" {
		cfg.Logger.Service = "helpdesk"
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	metrics := observability.NewMetrics("helpdesk")
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(ctx, service.NewNotificationService(dispatcher, logger, cfg.Notification))

	deps := store.Dependencies{
		Dispatcher:       dispatcher,
		Recorder:         metrics,
		Logger:           logger,
		HealthTimeout:    cfg.Remote.HealthTimeout(),
		InitTimeout:      cfg.Remote.InitTimeout(),
		WriteTimeout:     cfg.Remote.WriteTimeout(),
		ReadTimeout:      cfg.Remote.ReadTimeout(),
		Location:         cfg.Desk.Location(),
		SeedPasswordCost: cfg.Desk.SeedPasswordCost,
	}
	if cfg.Remote.BaseURL != "" {
		client, err := remote.New(remote.Options{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			Tokens:  tokens,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal("invalid remote backend", zap.Error(err))
		}
		deps.Remote = client
	}
	if cfg.Redis.SequenceEnabled {
		redis := persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		deps.Sequence = sequence.NewRedis(redis.Client, cfg.Redis.SequenceKey, logger)
	}

	ticketStore := store.New(deps)
	if err := ticketStore.Start(ctx); err != nil {
		logger.Fatal("failed to start ticket store", zap.Error(err))
	}
	defer ticketStore.Close()
	worker.StartMetricsExporter(ctx, ticketStore, metrics)

	app := fiber.New(fiber.Config{AppName: "helpdesk"})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterDeskRoutes(app, httptransport.DeskRouteConfig{
		Desk:           handlers.NewDeskHandler(ticketStore, auth.NewLocalAuthenticator(ticketStore, tokens), logger),
		Health:         handlers.NewHealthHandler("helpdesk", cfg.App.Version, nil, nil),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, ticketStore),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.Desk.Addr(cfg.App.Host)); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
