// Package server exposes the detection engine over HTTP: module
// invocation, trends, findings history, the target registry, and the
// module registry.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Config sizes the HTTP listener
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

// WebAPI serves the detection engine endpoints
type WebAPI struct {
	logger          zerolog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

// ConfigureRouter builds the route table around a handler. Split out
// from New so tests can mount it on httptest.
func ConfigureRouter(logger zerolog.Logger, deps Dependencies) *chi.Mux {
	h := NewHandler(deps)

	router := chi.NewRouter()
	router.Use(requestLogger(&logger))
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", h.Health)
	router.Get("/trends", h.GetTrends)
	router.Get("/findings", h.GetFindings)
	router.Get("/targets", h.ListTargets)
	router.Post("/targets", h.SaveTarget)
	router.Get("/modules", h.ListModules)
	router.Post("/{moduleID}", h.RunModule)

	return router
}

// New builds the API server. Detection runs execute synchronously
// inside request handlers, so the write timeout must cover a full scan.
func New(logger zerolog.Logger, config Config) *WebAPI {
	return &WebAPI{
		logger:          logger,
		shutdownTimeout: config.ShutdownTimeout,
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      ConfigureRouter(logger, config.Dependencies),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
	}
}

// Start serves until Shutdown is called or the listener fails
func (a *WebAPI) Start() error {
	a.logger.Info().Str("addr", a.server.Addr).Msg("starting server")
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout,
// closing hard if the deadline passes
func (a *WebAPI) Shutdown() error {
	timeout := a.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.logger.Info().Msg("shutdown initiated")
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("graceful shutdown failed")
		return a.server.Close()
	}
	return nil
}
