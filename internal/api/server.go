package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// Server runs the status API until its context is cancelled
type Server struct {
	http   *http.Server
	logger *logger.Logger
}

// NewServer wraps the router in an HTTP server bound to cfg.ListenAddr
func NewServer(router *Router, cfg config.ServerConfig, logger *logger.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("api"),
	}
}

// Run listens and serves; it returns nil once ctx is cancelled and the
// server has shut down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Status API listening", logger.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Status API shutdown", logger.Error(err))
	}
	return nil
}
