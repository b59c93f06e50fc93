// Package httpapi exposes the broadcast over HTTP: the raw audio stream,
// the JSON status endpoints and a websocket now-playing feed.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"radiod/internal/engine"
	"radiod/pkg/logx"
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

type Server struct {
	cfg Config
	log logx.Logger
	eng *engine.Engine
	hub *wsHub
}

func NewServer(cfg Config, eng *engine.Engine, log logx.Logger) *Server {
	return &Server{
		cfg: cfg.withDefaults(),
		log: log,
		eng: eng,
		hub: newWSHub(eng, log),
	}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/stream", s.handleStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/now-playing", s.handleNowPlaying)
		r.Get("/now-playing/ws", s.hub.handleWS)
		r.Get("/stats", s.handleStats)
		r.Get("/schedule", s.handleSchedule)
		r.Get("/master", s.handleMaster)
	})

	return r
}

// Run serves until ctx is canceled, then drains connections. The audio
// stream is long-lived by nature, so the server carries no write timeout;
// slow stream clients are handled by fan-out eviction instead.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		IdleTimeout:       time.Minute,
	}

	go s.hub.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		// Stream connections outlive the drain window; cut them off.
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
