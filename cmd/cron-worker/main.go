package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haldirect/settlement-backend/internal/cron"
	"github.com/haldirect/settlement-backend/internal/intake"
	"github.com/haldirect/settlement-backend/internal/orders"
	"github.com/haldirect/settlement-backend/internal/settlement"
	"github.com/haldirect/settlement-backend/internal/settlement/card"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/config"
	"github.com/haldirect/settlement-backend/pkg/db"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/metrics"
	"github.com/haldirect/settlement-backend/pkg/migrate"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/redis"
	"github.com/haldirect/settlement-backend/pkg/square"
)

const lockKeyFormat = "hd:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	gormDB := dbClient.DB()
	ordersRepo := orders.NewRepository(gormDB)
	adjustmentsRepo := weighing.NewRepository(gormDB)
	preAuthRepo := settlement.NewPreAuthRepository(gormDB)
	ledgerRepo := settlement.NewLedgerRepository(gormDB)
	intakeRepo := intake.NewRepository(gormDB)
	outboxRepo := outbox.NewRepository(gormDB)
	outboxService := outbox.NewService(outboxRepo, logg)

	machine, err := settlement.NewMachine(adjustmentsRepo, outboxService, cfg.Settlement.MaxGatewayAttempts, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create state machine", err)
		os.Exit(1)
	}
	locker, err := settlement.NewOrderLocker(redisClient, 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create order locker", err)
		os.Exit(1)
	}
	orchestrator, err := card.NewOrchestrator(card.Params{
		Orders:      ordersRepo,
		Adjustments: adjustmentsRepo,
		PreAuths:    preAuthRepo,
		Ledger:      ledgerRepo,
		Machine:     machine,
		Locker:      locker,
		Gateway:     square.NewGateway(squareClient),
		Tx:          dbClient,
		Outbox:      outboxService,
		Config:      cfg.Settlement,
		Metrics:     settlementMetrics,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create card orchestrator", err)
		os.Exit(1)
	}

	preAuthExpiry, err := cron.NewPreAuthExpiryJob(cron.PreAuthExpiryJobParams{
		Logger:   logg,
		PreAuths: preAuthRepo,
		Releaser: orchestrator,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pre-auth expiry job", err)
		os.Exit(1)
	}
	settlementRetry, err := cron.NewSettlementRetryJob(cron.SettlementRetryJobParams{
		Logger:      logg,
		Adjustments: adjustmentsRepo,
		Finalizer:   orchestrator,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement retry job", err)
		os.Exit(1)
	}
	intakeRetention, err := cron.NewIntakeRetentionJob(cron.IntakeRetentionJobParams{
		Logger:     logg,
		Repository: intakeRepo,
		Retention:  cfg.Settlement.IntakeRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create intake retention job", err)
		os.Exit(1)
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(preAuthExpiry, settlementRetry, intakeRetention, outboxRetention),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
