package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"example.com/territory/internal/app"
	"example.com/territory/internal/config"
	"example.com/territory/internal/logger"
	"example.com/territory/internal/outbox"
	httptransport "example.com/territory/internal/transport/http"
)

const defaultDLQBatchSize = 50

func main() {
	log := logger.Named("dlqmanager")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := app.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open postgres")
	}
	defer pool.Close()

	metricsSrv := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.MetricsAddress}, httptransport.MetricsHandler())
	go func() {
		log.Info().Str("addr", cfg.MetricsAddress).Msg("dlq manager metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	log.Info().Dur("interval", cfg.DLQPollInterval).Int("max_retries", cfg.DLQMaxRetries).Msg("dlq manager started")
	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)
	if err := manager.Run(ctx, cfg.DLQPollInterval, defaultDLQBatchSize); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dlq manager stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown error")
	}
}
