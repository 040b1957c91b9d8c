// Package gateway hosts the inbound turn pipeline: the bus consumer that
// drives conversational turns, the synchronous HTTP API, and the server
// that mounts both alongside the web app's WebSocket endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmentor/mentorgate/internal/config"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	consumer *Consumer

	// wsHandler serves the web app channel's WebSocket endpoint. Optional;
	// set before Start when the webapp channel is enabled.
	wsHandler http.Handler

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, consumer *Consumer) *Server {
	return &Server{cfg: cfg, consumer: consumer}
}

// SetWebSocketHandler mounts a handler at /ws. Must be called before
// BuildMux/Start.
func (s *Server) SetWebSocketHandler(h http.Handler) {
	s.wsHandler = h
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/v1/messages", NewMessagesHandler(s.cfg, s.consumer))
	if s.wsHandler != nil {
		mux.Handle("/ws", s.wsHandler)
	}

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	snap := s.cfg.Snapshot()
	addr := fmt.Sprintf("%s:%d", snap.Gateway.Host, snap.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
