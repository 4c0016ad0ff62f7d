package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"antifraud/internal/api"
	"antifraud/internal/config"
	"antifraud/internal/enrich"
	"antifraud/internal/health"
	"antifraud/internal/logging"
	"antifraud/internal/processor"
	"antifraud/internal/repository"
	"antifraud/internal/repository/memory"
	"antifraud/internal/repository/postgres"
	redisrepo "antifraud/internal/repository/redis"
	"antifraud/internal/service"
	"antifraud/internal/traces"
	"antifraud/pkg/crypto"
	"antifraud/pkg/metrics"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	appName    = "antifraud"
	appVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("env", cfg.Env))
	slog.SetDefault(logger)
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("store", cfg.Store))

	if err := run(cfg, logger); err != nil {
		logger.Error("Application failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Application shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, appVersion, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	txRepo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	metricsCollector := metrics.NewMetricsCollector(logger)
	metricsCollector.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	signer := crypto.NewSigner(cfg.SigningSecret, logger)
	alertService := setupAlertService(cfg, signer, metricsCollector, logger)

	opts := []processor.Option{
		processor.WithAlerts(alertService),
		processor.WithMetrics(metricsCollector),
	}
	var geo *enrich.GeoEnricher
	if cfg.GeoIPDBPath != "" {
		geo, err = enrich.OpenGeoEnricher(cfg.GeoIPDBPath, logger)
		if err != nil {
			return err
		}
		opts = append(opts, processor.WithGeoEnricher(geo))
	}
	if cfg.SerializeBySender {
		opts = append(opts, processor.WithSenderSerialization())
	}

	txProcessor := processor.NewTransactionProcessor(txRepo, processor.DefaultThresholds(), logger, opts...)

	registry := health.NewRegistry(2 * time.Second)
	registry.Register("store", txProcessor.Ping)

	apiHandler := api.NewAPIHandler(txProcessor, registry, signer, logger, cfg.RequestTimeout)
	metricsServer := metricsCollector.StartMetricsServer(":" + cfg.MetricsPort)
	httpServer := startHTTPServer(":"+cfg.Port, apiHandler, cfg.RequestTimeout, logger)

	waitForShutdown(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := alertService.Shutdown(shutdownCtx); err != nil {
		logger.Error("Alert service shutdown failed", slog.String("error", err.Error()))
	}
	if err := geo.Close(); err != nil {
		logger.Error("GeoIP database close failed", slog.String("error", err.Error()))
	}
	if err := closeStore(); err != nil {
		logger.Error("Store close failed", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.TransactionRepository, func() error, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return postgres.NewTransactionRepository(db), db.Close, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redisrepo.NewTransactionRepository(client, appName+":"), client.Close, nil

	default:
		return memory.NewTransactionRepository(), func() error { return nil }, nil
	}
}

func setupAlertService(
	cfg *config.Config,
	signer *crypto.Signer,
	metricsCollector *metrics.MetricsCollector,
	logger *slog.Logger,
) *service.AlertService {
	var notifier service.Notifier = service.NewLogNotifier(logger)
	if cfg.AlertWebhookURL != "" {
		notifier = service.MultiNotifier{notifier, service.NewWebhookNotifier(cfg.AlertWebhookURL, signer, logger)}
	}
	return service.NewAlertService(notifier, cfg.AlertWorkers, metricsCollector, logger)
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, requestTimeout time.Duration, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      apiHandler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sig := <-stop
	logger.Info("Shutdown signal received", slog.String("signal", sig.String()))
}
