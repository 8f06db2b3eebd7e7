package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/carstyle/backend/internal/auth"
	"github.com/carstyle/backend/internal/cache"
	"github.com/carstyle/backend/internal/config"
	"github.com/carstyle/backend/internal/db"
	"github.com/carstyle/backend/internal/kafka"
	"github.com/carstyle/backend/internal/logger"
	"github.com/carstyle/backend/internal/repository"
	"github.com/carstyle/backend/internal/repository/postgresql"
	"github.com/carstyle/backend/internal/server"
	"github.com/carstyle/backend/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	log := logger.New()
	defer log.Sync() //nolint:errcheck

	dbPool, err := db.NewDb(ctx, cfg.Dsn())
	if err != nil {
		log.Fatal("Database init error", zap.Error(err))
	}

	orderRepo := postgresql.NewOrderRepo(dbPool)
	statusRepo := postgresql.NewStatusRepo(dbPool)
	servicesRepo := postgresql.NewOrderServicesRepo(dbPool)
	carRepo := postgresql.NewCarRepo(dbPool)
	reviewRepo := postgresql.NewReviewRepo(dbPool)
	historyRepo := postgresql.NewHistoryRepo(dbPool)
	outboxRepo := postgresql.NewOutboxTaskRepo(cfg.OutboxAttempts)
	userRepo := postgresql.NewUserRepo(dbPool)

	catalog := cache.NewCarCache(carRepo)
	if err := catalog.LoadInitialData(ctx); err != nil {
		log.Warn("Car cache warmup failed, serving from database", zap.Error(err))
	}

	stg := storage.NewPostgresStorage(dbPool, orderRepo, statusRepo, servicesRepo,
		carRepo, reviewRepo, historyRepo, outboxRepo, catalog,
		storage.Config{
			MaxAttempts:       cfg.TxMaxAttempts,
			UpdateLockTimeout: cfg.UpdateLockTimeout,
			DeleteLockTimeout: cfg.DeleteLockTimeout,
		}, log)

	if err := bootstrapAdmin(ctx, userRepo, cfg); err != nil {
		log.Warn("Admin bootstrap failed", zap.Error(err))
	}

	tokens := auth.NewService(cfg.JWTSecret, 24*time.Hour)
	srv := server.New(stg, userRepo, tokens, cfg.AuditTopic, log)

	// the publisher owns the producer and closes it on shutdown
	producer := buildProducer(cfg, log)

	publisher := kafka.NewPublisher(dbPool, outboxRepo, producer, kafka.PublisherConfig{
		PollInterval: cfg.OutboxInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxAttempts,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx, cfg.HTTPPort)
	})

	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		publisher.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Service terminated", zap.Error(err))
	}

	log.Info("Service gracefully stopped")
}

// bootstrapAdmin ensures the configured admin account exists. Skipped
// entirely when ADMIN_EMAIL is not set.
func bootstrapAdmin(ctx context.Context, users storage.UserRepository, cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	_, err := users.GetByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrObjectNotFound) {
		return err
	}

	_, err = users.CreateUser(ctx, cfg.AdminEmail, cfg.AdminPassword, auth.RoleAdmin)
	return err
}

func buildProducer(cfg *config.Config, log *zap.Logger) kafka.Producer {
	brokers := strings.Split(cfg.KafkaBrokers, ",")
	if cfg.KafkaBrokers == "" || len(brokers) == 0 {
		log.Warn("No kafka brokers configured, audit records go to stdout")
		return kafka.NewConsoleProducer()
	}
	return kafka.NewKafkaProducer(brokers)
}
