// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/ratelimit"
	"github.com/absmach/fluxpub/routing"
	"github.com/gorilla/websocket"
)

// Faces is where accepted peers are registered as egress faces.
type Faces interface {
	AddFace(name string, link routing.Link, filters ...keyexpr.KeyExpr) error
	RemoveFace(name string) error
}

type Config struct {
	Address         string
	Path            string
	ShutdownTimeout time.Duration
	MaxMessageSize  int64
	Compression     codec.Compression
	// ConnectionRate limits accepted connections per second per remote
	// host; zero disables the limit.
	ConnectionRate  float64
	ConnectionBurst int
	// Pool recycles inbound payload buffers; nil allocates per frame.
	Pool *core.BufferPool
}

// Server accepts peers. Samples read from a peer go to the injector; samples
// published locally reach the peer through its face.
type Server struct {
	config   Config
	injector Injector
	faces    Faces
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	limiter  *ratelimit.PeerLimiter
}

// NewServer creates a server. faces may be nil for an ingress-only server.
func NewServer(cfg Config, inj Injector, faces Faces, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/fluxpub"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		config:   cfg,
		injector: inj,
		faces:    faces,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if cfg.ConnectionRate > 0 {
		s.limiter = ratelimit.NewPeerLimiter(cfg.ConnectionRate, cfg.ConnectionBurst, time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Listen serves until ctx is done, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	defer s.stopLimiter()

	s.logger.Info("websocket_server_starting",
		slog.String("addr", s.config.Address),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("websocket_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("websocket_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("websocket_server_stopped")
		return nil
	}
}

func (s *Server) stopLimiter() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(r.RemoteAddr) {
		s.logger.Warn("websocket_connection_rate_limited", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	if s.config.MaxMessageSize > 0 {
		ws.SetReadLimit(s.config.MaxMessageSize)
	}

	conn := newConn(ws, r.RemoteAddr, s.config.Compression, s.config.Pool, s.logger)
	s.logger.Debug("websocket_connection_accepted", slog.String("remote_addr", r.RemoteAddr))

	face := "ws:" + r.RemoteAddr
	if s.faces != nil {
		if err := s.faces.AddFace(face, conn); err != nil {
			s.logger.Warn("websocket_face_add_failed",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()))
			_ = conn.Close()
			return
		}
	}

	if err := conn.ReadLoop(s.injector); err != nil {
		s.logger.Warn("websocket_read_loop_stopped",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
	}

	if s.faces != nil {
		if err := s.faces.RemoveFace(face); err != nil {
			s.logger.Debug("websocket_face_remove_failed",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()))
		}
	}
}
