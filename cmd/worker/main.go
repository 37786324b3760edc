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
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/channel"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/config"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/handler"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/infra/postgresql"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/infra/postgresql/migrations"
	infraredis "github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/infra/redis"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/observability"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/queue"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/service"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/throttle"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
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

	throttleStore, err := newThrottleStore(cfg, db, rdb)
	if err != nil {
		logger.Fatal("throttle store initialization failed", zap.Error(err))
	}
	gate := throttle.NewController(throttleStore, logger.Named("throttle"))

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.MaxDeliveryAttempts)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, 1, logger.Named("consumer"))
	connector := channel.NewBotConnector(cfg.BotAccessToken)

	notifications := repository.NewGormNotificationRepo(db)
	recipients := repository.NewGormRecipientStatusRepo(db)

	metrics := observability.NewMetrics()

	worker := service.NewWorkerService(
		notifications,
		recipients,
		consumer,
		publisher,
		connector,
		gate,
		service.WorkerOptions{
			Concurrency:          cfg.WorkerConcurrency,
			MaxDeliveryAttempts:  cfg.MaxDeliveryAttempts,
			ThrottleDelay:        cfg.ThrottleDelay(),
			TransportMaxAttempts: cfg.TransportMaxAttempts,
			NoConversationText:   cfg.NoConversationText,
		},
		logger.Named("worker"),
	)
	worker.SetMetrics(metrics)

	sweeper := service.NewExpirySweeper(
		notifications,
		recipients,
		connector,
		service.ExpiryOptions{
			Interval:        cfg.ExpirySweepInterval(),
			EditMaxAttempts: cfg.ExpiryEditMaxAttempts,
			EditsPerSec:     cfg.ExpiryEditsPerSec,
		},
		logger.Named("expiry"),
	)
	sweeper.SetMetrics(metrics)

	ops := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(ops, sqlDB, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})
	g.Go(func() error {
		if err := ops.Listen(fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return ops.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("company communicator worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("throttleBackend", cfg.ThrottleBackend),
		zap.Int("metricsPort", cfg.MetricsPort),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("company communicator worker stopped")
}

func newThrottleStore(cfg *config.Config, db *gorm.DB, rdb *goredis.Client) (throttle.Store, error) {
	switch cfg.ThrottleBackend {
	case config.ThrottleBackendRedis:
		return infraredis.NewRedisThrottleStore(rdb)
	default:
		return repository.NewGormThrottleStore(db), nil
	}
}
