package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/config"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/handler"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/infra/postgresql"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/infra/postgresql/migrations"
	infraredis "github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/infra/redis"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/observability"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/queue"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/service"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.MaxDeliveryAttempts)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	notifications := repository.NewGormNotificationRepo(db)
	drafts := repository.NewGormDraftRepo(db)
	recipients := repository.NewGormRecipientStatusRepo(db)

	dispatcher := service.NewDispatchService(notifications, drafts, recipients, publisher, logger.Named("dispatch"))
	reporter := service.NewReportService(notifications, recipients, logger.Named("report"))

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, dispatcher, reporter); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("company communicator api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped with error", zap.Error(err))
	}
}
