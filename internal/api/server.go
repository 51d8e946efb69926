package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/curvepost/engine/internal/auth"
	"github.com/curvepost/engine/internal/config"
)

// Server runs the HTTP/WebSocket transport for session connections.
type Server struct {
	cfg      config.ServerConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires a transport server around an already-constructed hub.
// The hub is built and passed in by the caller (rather than created here)
// so the caller's session router can be constructed with a reference to
// it before the server exists - the router needs the hub to broadcast,
// and the server needs the router to dispatch inbound frames. inbound
// receives every parsed frame from every client; onConnect is notified
// once a session is admitted.
func NewServer(cfg config.ServerConfig, hub *Hub, validator auth.Validator, inbound InboundHandler, onConnect ConnectHandler, logger *slog.Logger) *Server {
	handlers := NewHandlers(cfg, hub, validator, inbound, onConnect, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Hub exposes the broadcast fabric so the session router can fan out
// market updates and user syncs.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub and the HTTP server. Blocks until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
