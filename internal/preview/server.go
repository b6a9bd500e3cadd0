// Package preview serves a read-mostly HTTP surface over an engine for
// preview clients: composition listing, resolved layers, frames, the
// cursor and a few clip edits.
package preview

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ivlev/timeline/internal/engine"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr      string
	Session   *Session
	Logger    *slog.Logger
	StartTime time.Time
	// MaxWait caps the wait query parameter of frame requests.
	MaxWait time.Duration
}

// Session serializes access to the engine. Whoever holds the lock is
// the owner goroutine.
type Session struct {
	mu   sync.Mutex
	e    *engine.Engine
	rate int64
}

func NewSession(e *engine.Engine, rate int64) *Session {
	return &Session{e: e, rate: rate}
}

// Do runs fn with exclusive access to the engine.
func (s *Session) Do(fn func(e *engine.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.e)
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting preview server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down preview server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
