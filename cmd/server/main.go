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

	router "github.com/accord-chat/accord/internal/adapters/http"
	ws "github.com/accord-chat/accord/internal/adapters/signal"
	"github.com/accord-chat/accord/internal/adapters/store"
	"github.com/accord-chat/accord/internal/app"
	"github.com/accord-chat/accord/internal/config"
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

	rdb, err := store.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer func() { _ = rdb.Close() }()

	creds := &store.RedisCredentials{Client: rdb}
	messages := &store.RedisMessages{Client: rdb, Creds: creds}
	// Instance/channel/user records are owned by the CRUD service; this
	// process holds a fed view of them.
	directory := store.NewMemDirectory()

	registry := app.NewRegistry()
	pipeline := &app.Pipeline{
		Gate:     app.Gate{Store: creds},
		Users:    directory,
		Channels: directory,
		Registry: registry,
	}
	chat := &app.ChatRelay{Pipeline: pipeline, Registry: registry, Messages: messages}
	voice := &app.VoiceRelay{Pipeline: pipeline, Registry: registry, ICE: store.NewStaticICE(cfg.ICEServers)}

	ctl := ws.NewController(cfg, chat, voice)
	chat.Groups = ctl

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("accord server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
