package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"timecapsule/internal/config"

	"go.uber.org/zap"
)

// Server journal HTTP API listener
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}
	return &Server{httpServer: s, shutdownTimeout: shutdown, logger: logger}
}

func (s *Server) Start() error {
	s.logger.Info("Starting timecapsule-data HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping timecapsule-data HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Run serves on ln until ctx is done, then drains in-flight requests for at
// most the shutdown timeout. A nil ln listens on the configured address.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if ln == nil {
			errCh <- s.Start()
			return
		}
		s.logger.Info("Starting timecapsule-data HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}
	return nil
}
