package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/config"
	"github.com/harmonium-chat/harmonium/internal/server/auth"
	"github.com/harmonium-chat/harmonium/internal/server/httpapi"
	"github.com/harmonium-chat/harmonium/internal/server/registry"
	"github.com/harmonium-chat/harmonium/internal/server/relay"
	"github.com/harmonium-chat/harmonium/internal/server/signalws"
	"github.com/harmonium-chat/harmonium/internal/server/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("secret is required to validate bearer tokens")
	}

	states, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open voice-state store")
	}

	reg := registry.New()
	tbl := relay.NewTable()
	verifier := auth.NewJWTVerifier(cfg.Secret)
	ctl := signalws.NewController(cfg, reg, tbl)

	r := httpapi.SetupRouter(ctx, cfg, verifier, reg, ctl, states)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
