package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callflow/internal/bridge"
	"callflow/internal/cache"
	"callflow/internal/callstate"
	"callflow/internal/config"
	"callflow/internal/event"
	"callflow/internal/httpserver"
	"callflow/internal/logging"
	"callflow/internal/metrics"
	"callflow/internal/router"
	"callflow/internal/rules"
	"callflow/internal/sms"
	"callflow/internal/store"
	"callflow/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting callflow agent", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	bridgeClient := bridge.New(bridge.Config{
		BaseURL: cfg.BridgeBaseURL,
		Timeout: cfg.BridgeTimeout,
	}, logger, metricRegistry)

	hub := httpserver.NewStreamHub(logger)
	sink := event.MultiSink{event.NewLogSink(logger), hub}

	registry := rules.NewSentRegistry()
	engine := rules.NewEngine(registry, bridgeClient, logger)

	// Re-apply the last accepted configuration before any call arrives.
	if payload, err := st.LoadRuleConfig(ctx); err != nil {
		logger.Warn("load persisted rule config failed", "error", err)
	} else if payload != nil {
		if err := engine.UpdateConfig(payload); err != nil {
			logger.Warn("persisted rule config rejected", "error", err)
		}
	}

	gateway := sms.NewGateway(sms.Config{
		BaseURL:         cfg.GatewayBaseURL,
		APIKey:          cfg.GatewayAPIKey,
		Timeout:         cfg.GatewayTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, logger, metricRegistry, redisClient)

	channelRouter := router.New(engine, gateway, st, redisClient, bridgeClient, sink, metricRegistry, logger)
	defer channelRouter.Shutdown()

	tracker := callstate.New(callstate.Config{
		SettleDelay: cfg.SettleDelay,
		WakeMaxHold: cfg.WakeMaxHold,
	}, bridgeClient, channelRouter, sink, metricRegistry, logger)
	tracker.Start()
	defer tracker.Stop()

	deliveryWebhook := sms.NewWebhookHandler(logger, metricRegistry, cfg.GatewayWebhookSecret, gateway.Pending())

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, deliveryWebhook, httpserver.Dependencies{
		Engine:  engine,
		Tracker: tracker,
		Router:  channelRouter,
		Store:   st,
		Channel: gateway,
		Hub:     hub,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// openStore picks Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		logger.Info("using postgres store")
		return store.NewPostgres(ctx, cfg.DatabaseURL, logger)
	}
	logger.Info("using sqlite store", "path", cfg.SQLitePath)
	return store.NewSQLite(ctx, cfg.SQLitePath, logger)
}
