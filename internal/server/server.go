package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/docsync/internal/server/storage"
)

// DefaultTokenCleanupInterval задает период удаления просроченных refresh токенов
const DefaultTokenCleanupInterval = time.Hour

// Config contains HTTP server settings.
type Config struct {
	Address              string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	ShutdownTimeout      time.Duration
	TokenCleanupInterval time.Duration
}

// Server runs the HTTP listener and the background maintenance workers.
type Server struct {
	logger  *slog.Logger
	handler http.Handler
	tokens  storage.TokenStorage
	cfg     Config
}

// New creates a server. tokens may be nil to disable the cleanup worker.
func New(logger *slog.Logger, cfg Config, handler http.Handler, tokens storage.TokenStorage) *Server {
	if cfg.TokenCleanupInterval <= 0 {
		cfg.TokenCleanupInterval = DefaultTokenCleanupInterval
	}
	return &Server{
		logger:  logger,
		handler: handler,
		tokens:  tokens,
		cfg:     cfg,
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// A listener failure stops the workers and is returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", slog.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if s.tokens != nil {
		g.Go(func() error {
			s.cleanupTokens(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		// Дожидаемся завершения текущих запросов
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("shutdown complete")
	return err
}

// cleanupTokens периодически удаляет просроченные refresh токены
func (s *Server) cleanupTokens(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.tokens.DeleteExpiredTokens(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("failed to delete expired tokens", slog.Any("error", err))
				}
				continue
			}
			if n > 0 {
				s.logger.Info("expired refresh tokens deleted", slog.Int("count", n))
			}
		}
	}
}
