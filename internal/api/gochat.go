package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/chatrelay/internal/config"
	"github.com/npezzotti/chatrelay/internal/server"
)

type GoChatApp struct {
	log            *log.Logger
	mux            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
	started        time.Time
}

func NewGoChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
		started:        time.Now(),
	}

	mux.HandleFunc("GET /api/health", noStore(s.healthCheck))
	mux.HandleFunc("GET /api/rooms/{room}/messages", noStore(s.getRoomMessages))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = handlers.LoggingHandler(logger.Writer(), h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
