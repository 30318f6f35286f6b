// Package core provides the HTTP chassis for the marina scheduling engine.
// It owns the chi router and the cross-cutting middleware (recovery, request
// ids, logging, CORS, metrics, compression) that every handler runs behind,
// plus the JSON envelopes handlers answer with.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marinaops/internal/config"
)

// MetricsCollector records per-request API telemetry. The route argument is
// the chi route pattern, not the raw path, so cardinality stays bounded.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler group onto the /v1 router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the API surface. Domain handlers are
// attached through V1RouteRegistrars so this package never imports them.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// MetricsHandler, when set, is served at GET /metrics.
	MetricsHandler http.Handler

	HealthProbes      []HealthProbe
	V1RouteRegistrars []RouteRegistrar

	closers []func(context.Context) error
	router  *chi.Mux
}

// NewServer validates its inputs and prepares an empty router. Routes are
// mounted separately via MountRoutes once registrars are attached.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown. Functions run in reverse
// registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs the registered shutdown hooks. Every hook runs even if an
// earlier one fails; the errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
