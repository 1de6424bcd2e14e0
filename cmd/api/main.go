package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haldirect/settlement-backend/api/controllers"
	"github.com/haldirect/settlement-backend/api/routes"
	"github.com/haldirect/settlement-backend/internal/arbitration"
	"github.com/haldirect/settlement-backend/internal/intake"
	"github.com/haldirect/settlement-backend/internal/orders"
	"github.com/haldirect/settlement-backend/internal/settlement"
	"github.com/haldirect/settlement-backend/internal/settlement/card"
	"github.com/haldirect/settlement-backend/internal/settlement/cash"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	gormDB := dbClient.DB()
	ordersRepo := orders.NewRepository(gormDB)
	adjustmentsRepo := weighing.NewRepository(gormDB)
	preAuthRepo := settlement.NewPreAuthRepository(gormDB)
	ledgerRepo := settlement.NewLedgerRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	calculator, err := weighing.NewCalculator(cfg.Settlement.AdminApprovalThresholdPercent, cfg.Settlement.AutoApproveFloorCents)
	if err != nil {
		logg.Error(context.Background(), "failed to build calculator", err)
		os.Exit(1)
	}
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
	weighingService, err := weighing.NewService(adjustmentsRepo, ordersRepo, dbClient, outboxService, calculator, orchestrator, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create weighing service", err)
		os.Exit(1)
	}
	cashService, err := cash.NewService(ordersRepo, adjustmentsRepo, ledgerRepo, machine, dbClient, outboxService, settlementMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create cash settlement service", err)
		os.Exit(1)
	}
	arbitrationService, err := arbitration.NewService(adjustmentsRepo, arbitration.NewDecisionRepository(gormDB), machine, dbClient, outboxService, orchestrator, settlementMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create arbitration service", err)
		os.Exit(1)
	}
	intakeService, err := intake.NewService(intake.NewRepository(gormDB), weighingService, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create intake service", err)
		os.Exit(1)
	}
	ordersService, err := orders.NewService(ordersRepo, adjustmentsRepo, cfg.Settlement.AdminApprovalThresholdPercent)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			Redis:        redisClient,
			SquareClient: squareClient,
			Orchestrator: orchestrator,
			Intake:       intakeService,
			Weighing:     weighingService,
			Orders:       ordersService,
			Cash:         cashService,
			Arbitration:  arbitrationService,
			ReadyProbes: map[string]controllers.HealthPinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Metrics: registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
