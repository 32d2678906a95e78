package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-tweetchat/internal/api"
	"github.com/npezzotti/go-tweetchat/internal/cache"
	"github.com/npezzotti/go-tweetchat/internal/comment"
	"github.com/npezzotti/go-tweetchat/internal/config"
	"github.com/npezzotti/go-tweetchat/internal/database"
	"github.com/npezzotti/go-tweetchat/internal/logger"
	"github.com/npezzotti/go-tweetchat/internal/server"
	"github.com/npezzotti/go-tweetchat/internal/stats"
	"github.com/rs/zerolog"
)

const serviceName = "go-tweetchat"

var configPath string

func main() {
	flag.StringVar(&configPath, "config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		// the configured logger is not available yet
		l := logger.New(logger.Config{ServiceName: serviceName})
		l.Fatal().Err(err).Msg("config")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: serviceName,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// run serves until a signal or a server error and releases every resource
// it opened before returning.
func run(cfg *config.Config, log zerolog.Logger) error {
	dbConn, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		return fmt.Errorf("db open (%s): %w", cfg.Database.Driver, err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			log.Error().Err(err).Msg("db close")
		}
	}()

	var commentCache cache.CommentCache = cache.NopCache{}
	if cfg.Redis.Address != "" {
		rc, err := cache.NewRedisCommentCache(cfg.Redis, cache.DefaultPrefix)
		if err != nil {
			return fmt.Errorf("redis connect %s: %w", cfg.Redis.Address, err)
		}
		commentCache = rc
	}
	defer func() {
		if err := commentCache.Close(); err != nil {
			log.Error().Err(err).Msg("cache close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	store := comment.NewStore(dbConn, commentCache, cfg.Redis.CacheTTL, statsUpdater, log)

	chatServer, err := server.NewChatServer(log, store, statsUpdater, cfg.WebSocket)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	srv := api.NewTweetChatApp(mux, log, chatServer, store, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}

	log.Info().Msg("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		log.Error().Err(err).Msg("chat server shutdown")
	}

	log.Info().Msg("shutdown complete")
	return serveErr
}
