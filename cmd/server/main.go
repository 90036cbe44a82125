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

	router "github.com/cbrcs/studysession/internal/adapters/http"
	"github.com/cbrcs/studysession/internal/app"
	"github.com/cbrcs/studysession/internal/app/orch"
	"github.com/cbrcs/studysession/internal/config"
	"github.com/cbrcs/studysession/internal/storage"
	"github.com/cbrcs/studysession/internal/storage/memory"
	"github.com/cbrcs/studysession/internal/storage/postgres"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	sessions, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer closeStore()

	rooms := app.NewRoomManager()
	o := &orch.Orchestrator{
		Registry:   app.NewRegistry(),
		Rooms:      rooms,
		Sessions:   sessions,
		Policy:     app.SimplePolicy{},
		Limiter:    app.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
		MaxChatLen: cfg.Chat.MaxLength,
	}
	go sessions.RunReaper(ctx, cfg.Session.ReapInterval, cfg.Session.IdleTTL, rooms.IsLive)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("study session server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
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

func setupLogger(cfg *config.Config) {
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg *config.Config) (*app.SessionService, func(), error) {
	var (
		sessions storage.SessionStore
		chats    storage.ChatStore
		closeFn  = func() {}
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		sessions, chats = memory.NewSessionStore(), memory.NewChatStore()
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		sessions, chats = postgres.NewSessionStore(pool), postgres.NewChatStore(pool)
		closeFn = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return app.NewSessionService(sessions, chats), closeFn, nil
}
