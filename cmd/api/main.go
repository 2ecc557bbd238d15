package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/territory/internal/api"
	"example.com/territory/internal/app"
	"example.com/territory/internal/auth"
	"example.com/territory/internal/config"
	"example.com/territory/internal/domain"
	"example.com/territory/internal/logger"
	"example.com/territory/internal/outbox"
	httptransport "example.com/territory/internal/transport/http"
)

func main() {
	log := logger.Named("api")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer stores.Close()

	analysis := app.NewTerritoryService(cfg, stores)

	var (
		trigger    domain.AnalysisTrigger
		async      *domain.AsyncTrigger
		dispatcher *outbox.Dispatcher
	)
	if stores.Pool != nil {
		// The consumer picks up run.ingested from Kafka.
		trigger = domain.OutboxTrigger{}
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(outbox.NewPgStore(stores.Pool, cfg.OutboxClaimTTL), producer, registry,
			cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	} else {
		async = domain.NewAsyncTrigger(analysis, cfg.Territory.AnalysisTimeout)
		trigger = async
	}

	ingest := domain.NewIngestionService(stores.Runs, trigger)
	handler := api.NewHandler(ingest, analysis)
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	router := httptransport.NewRouter(httptransport.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		SlowRequest: 500 * time.Millisecond,
		Auth:        authMiddleware.Wrap,
		Health:      api.Healthz,
		Metrics:     cfg.MetricsAddress == "" || cfg.MetricsAddress == cfg.HTTPAddress,
	}, func(r chi.Router) { handler.Routes(r) })

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, router)

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" && cfg.MetricsAddress != cfg.HTTPAddress {
		metricsSrv = httptransport.NewServer(httptransport.ServerConfig{Address: cfg.MetricsAddress}, httptransport.MetricsHandler())
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Str("store", cfg.StoreDriver).Msg("territory api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdownCh
	log.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	cancel()

	if dispatcher != nil {
		dispatcher.Wait()
	}
	if async != nil {
		async.Wait()
	}
}
