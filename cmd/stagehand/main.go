package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	setupLogging()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := setupDatabase(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	go services.Hub.Run(ctx)
	go services.Snapshotter.Run(ctx)

	server := setupServer(cfg, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("stagehand listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Final snapshot before the hub loop stops, so a clean shutdown never
	// loses the tail of the session.
	snapCtx, snapCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if st, err := services.Hub.State(snapCtx); err != nil {
		log.Error().Err(err).Msg("failed to read state for shutdown snapshot")
	} else if err := services.Snapshots.Save(snapCtx, st); err != nil {
		log.Error().Err(err).Msg("failed to persist shutdown snapshot")
	}
	snapCancel()

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
