package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"xyz-layer-registry/internal/api"
	"xyz-layer-registry/internal/config"
	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/monitor"
	"xyz-layer-registry/internal/storage"
	"xyz-layer-registry/internal/xyz"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	store, err := storage.Open(ctx, storage.Config{
		Backend: cfg.Store.Backend,
		DSN:     cfg.Store.DSN,
		Path:    cfg.Store.Path,
	})
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open store")
	}
	defer store.Close()

	validator, err := xyz.NewValidator()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build validator")
	}

	registry := xyz.NewRegistry(store, validator, nil)
	ledger := errlog.NewLedger(store)
	coordinator := errlog.NewCoordinator(ledger, registry, cfg.Stream.PollInterval)

	var auditWriter *storage.AuditWriter
	if cfg.Audit.Enabled {
		auditWriter = storage.NewAuditWriter(store, cfg.Audit.BufferSize)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	handlers := api.NewHandlers(registry, ledger, coordinator, metrics, auditWriter)
	server := api.NewServer(cfg, handlers, store, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("store", cfg.Store.Backend).
		Bool("audit_enabled", auditWriter != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
