// Command billingd runs the billing ledger service.
//
// Configuration is read from BILLING_* environment variables (optionally
// from a .env file). Without BILLING_POSTGRES_URL the service runs on an
// in-memory store; without BILLING_GATEWAY_PROVIDER it runs in offline
// mode, completing top-ups immediately with synthetic references.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/commercebase/billing/pkg/api"
	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/billing/memory"
	"github.com/commercebase/billing/pkg/billing/postgres"
	"github.com/commercebase/billing/pkg/config"
	"github.com/commercebase/billing/pkg/gateway"
	"github.com/commercebase/billing/pkg/notify"
	"github.com/commercebase/billing/pkg/observability"
	"github.com/commercebase/billing/pkg/reconcile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "billingd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	logger.Info("starting billing service")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Storage
	var store billing.Store
	var db *sql.DB
	if cfg.Database.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
		db, err = postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		cancel()
		if err != nil {
			return err
		}
		defer db.Close()

		pgStore := postgres.NewStore(db)
		if err := pgStore.Migrate(context.Background()); err != nil {
			return err
		}
		store = pgStore
		logger.Info("using postgres store")
	} else {
		store = memory.NewStore()
		logger.Warn("no postgres url configured, using in-memory store")
	}

	// Payment gateway
	var gw gateway.Gateway
	switch cfg.Gateway.Provider {
	case "":
		logger.Warn("no payment gateway configured, running in offline mode")
	case "stripe":
		gw = gateway.NewStripeGateway(cfg.Gateway.APIKey)
		logger.Info("using stripe payment gateway")
	default:
		return fmt.Errorf("unknown payment gateway provider %q", cfg.Gateway.Provider)
	}

	// Notifications
	var notifier notify.Notifier
	if len(cfg.Notify.KafkaBrokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
		logger.WithField("brokers", cfg.Notify.KafkaBrokers).Info("using kafka notifier")
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	catalog := billing.NewPlanCatalog(billing.DefaultPlans(cfg.Ledger.DefaultCurrency))

	service := billing.NewService(store, gw, notifier, catalog, logger, metrics, billing.Options{
		DefaultCurrency:            cfg.Ledger.DefaultCurrency,
		DefaultFeeRate:             cfg.Ledger.DefaultFeeRate,
		DefaultLowBalanceThreshold: cfg.Ledger.DefaultLowBalanceThreshold,
		MinimumTopUp:               cfg.Ledger.MinimumTopUp,
		WebhookSecret:              cfg.Gateway.WebhookSecret,
	})

	health := observability.NewHealthChecker(db)

	server := api.NewServer(service, logger, metrics, health, registry, api.Config{
		Addr:           cfg.Server.Host + ":" + cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	// Separate health/metrics listener for orchestrator probes.
	probeRouter := mux.NewRouter()
	probeRouter.HandleFunc("/healthz", health.Liveness).Methods("GET")
	probeRouter.HandleFunc("/readyz", health.Readiness).Methods("GET")
	if cfg.MetricsEnabled {
		probeRouter.Handle("/metrics", observability.Handler(registry)).Methods("GET")
	}
	probeServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: probeRouter,
	}

	shutdown := observability.NewShutdownManager(logger, server.HTTPServer(), cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(probeServer.Shutdown)

	if cfg.Reconcile.Enabled {
		sweeper := reconcile.NewSweeper(service, store, gw, logger, reconcile.Config{
			Schedule:   cfg.Reconcile.Schedule,
			StaleAfter: cfg.Reconcile.StaleThreshold,
			BatchSize:  cfg.Reconcile.BatchSize,
		})
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start reconciliation sweeper: %w", err)
		}
		shutdown.RegisterShutdownFunc(sweeper.Stop)
	}

	var group errgroup.Group
	group.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", probeServer.Addr).Info("probe server listening")
		if err := probeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}
