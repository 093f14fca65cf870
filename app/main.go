package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/feedgate/app/api"
	"github.com/lysyi3m/feedgate/app/cache"
	"github.com/lysyi3m/feedgate/app/cfg"
	"github.com/lysyi3m/feedgate/app/connectors"
	"github.com/lysyi3m/feedgate/app/database"
	"github.com/lysyi3m/feedgate/app/gateway"
	"github.com/lysyi3m/feedgate/app/payment"
	"github.com/lysyi3m/feedgate/app/pricing"
	"github.com/lysyi3m/feedgate/app/tasks"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	if appCfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if err := run(appCfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting feedgate", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	schema, err := database.Migrate(db)
	if err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", schema.Version, "tables", schema.Tables)

	rules, err := pricing.Load(appCfg.PricingFile)
	if err != nil {
		return fmt.Errorf("failed to load pricing rules: %w", err)
	}
	classifier := pricing.NewClassifier(rules)

	configCache := connectors.NewConfigCache(appCfg.ConnectorsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load connector configurations: %w", err)
	}

	registry, err := connectors.NewRegistry(configCache, appCfg.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to build connectors: %w", err)
	}
	slog.Info("Connectors ready", "connectors", registry.Names())

	identityRepo := database.NewIdentityRepository(db)
	paymentRepo := database.NewPaymentRepository(db)
	checkers := map[string]api.HealthChecker{
		"database": db,
		"store":    database.NewStoreHealth(identityRepo, paymentRepo),
	}

	serviceOpts := []gateway.Option{gateway.WithIdentityStore(identityRepo)}
	if appCfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := cache.NewRedisStore(ctx, appCfg.RedisAddr, appCfg.RedisPassword, appCfg.RedisDB, "feedgate:estimate:")
		cancel()
		if err != nil {
			return err
		}
		defer store.Close()
		serviceOpts = append(serviceOpts, gateway.WithEstimateStore(store))
		checkers["redis"] = store
	}

	service, err := gateway.New(registry, classifier, gateway.Config{
		IdentityTTL:    appCfg.IdentityTTL,
		EstimateTTL:    appCfg.EstimateTTL,
		RequestTimeout: appCfg.RequestTimeout,
		CacheSize:      appCfg.CacheSize,
	}, serviceOpts...)
	if err != nil {
		return fmt.Errorf("failed to create feed service: %w", err)
	}

	var gate *payment.Gate
	if appCfg.PaymentsEnabled() {
		gate, err = payment.NewGate(payment.GateConfig{
			Secret: appCfg.PaymentSecret,
			PayTo:  appCfg.PayTo,
			Asset:  appCfg.PaymentAsset,
			TTL:    appCfg.ChallengeTTL,
		}, paymentRepo)
		if err != nil {
			return fmt.Errorf("failed to configure payments: %w", err)
		}
		slog.Info("Payments enabled", "pay_to", gate.PayTo(), "asset", gate.Asset())
	}

	var limiter *api.ClientLimiter
	if appCfg.ClientRate > 0 {
		limiter = api.NewClientLimiter(rate.Limit(appCfg.ClientRate), max(appCfg.ClientBurst, 1))
	}

	handler := api.NewHandler(service, gate, appCfg.BaseUrl, appCfg.Version, checkers)
	server := api.NewServer(handler, limiter)

	sweepers := map[string]func() int{"gateway": service.SweepCaches}
	if limiter != nil {
		sweepers["clients"] = limiter.Sweep
	}
	// Redeemed nonces must outlive their challenges.
	retention := max(appCfg.Retention(), appCfg.ChallengeTTL)
	scheduler := tasks.NewScheduler(identityRepo, paymentRepo, sweepers,
		time.Duration(appCfg.SchedulerInterval)*time.Second, appCfg.WorkerCount, retention)
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: appCfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port, "base_url", appCfg.BaseUrl)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		return err
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("feedgate shutdown complete")
	return nil
}
