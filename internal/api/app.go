package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/comment"
	"github.com/npezzotti/go-tweetchat/internal/config"
	"github.com/npezzotti/go-tweetchat/internal/logger"
	"github.com/npezzotti/go-tweetchat/internal/server"
	"github.com/rs/zerolog"
)

type TweetChatApp struct {
	log            zerolog.Logger
	store          comment.Service
	cs             *server.ChatServer
	verifier       *auth.Verifier
	allowedOrigins []string
	mux            *http.Server
}

// NewTweetChatApp registers the comment REST API and the websocket endpoint
// on mux and wraps it with CORS, panic recovery and request logging.
func NewTweetChatApp(mux *http.ServeMux, logger zerolog.Logger, cs *server.ChatServer, store comment.Service, cfg *config.Config) *TweetChatApp {
	s := &TweetChatApp{
		log:            logger,
		store:          store,
		cs:             cs,
		verifier:       auth.NewVerifier(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /comment/add", s.authMiddleware(s.addComment))
	mux.HandleFunc("GET /comment/{tweetId}", s.listComments)
	mux.HandleFunc("DELETE /comment/delete/{commentId}", s.authMiddleware(s.deleteComment))
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthz)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: s.routes(mux),
	}

	return s
}

func (s *TweetChatApp) routes(mux http.Handler) http.Handler {
	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(s.allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	return logger.HTTPMiddleware(s.log)(h)
}

func (s *TweetChatApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *TweetChatApp) Start() error {
	s.log.Info().Str("addr", s.mux.Addr).Msg("starting server")
	return s.mux.ListenAndServe()
}

func (s *TweetChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
