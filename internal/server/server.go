// Package server exposes the prediction engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/phishcheck/phishcheck/internal/auth"
	"github.com/phishcheck/phishcheck/internal/config"
	"github.com/phishcheck/phishcheck/internal/features"
	"github.com/phishcheck/phishcheck/internal/predict"
	"github.com/phishcheck/phishcheck/internal/telemetry"
)

// Predictor is the engine surface the HTTP layer needs.
type Predictor interface {
	PredictPayload(ctx context.Context, payload []byte) (predict.Result, error)
	Schema() *features.Schema
	Version() string
}

// Server wires routes, middleware and the prediction engine.
type Server struct {
	cfg       config.ServerConfig
	engine    Predictor
	auth      *auth.Auth
	telemetry *telemetry.Provider
	logger    *slog.Logger
	version   string
	router    chi.Router
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Auth      *auth.Auth
	Telemetry *telemetry.Provider
	Logger    *slog.Logger
	// Version is the service build version reported by health output.
	Version string
}

// New creates a server with all routes registered.
func New(cfg config.ServerConfig, engine Predictor, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	s := &Server{
		cfg:       cfg,
		engine:    engine,
		auth:      opts.Auth,
		telemetry: tel,
		logger:    logger,
		version:   opts.Version,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	for _, h := range securityHeaders {
		r.Use(middleware.SetHeader(h[0], h[1]))
	}
	r.Use(s.cors())

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if h := s.telemetry.MetricsHandler(); h != nil {
		r.Method(http.MethodGet, "/metrics", h)
	}

	r.Group(func(api chi.Router) {
		if s.cfg.RateLimit.Requests > 0 {
			api.Use(s.rateLimit())
		}
		api.Get("/api/health", s.handleHealth)

		api.Group(func(api chi.Router) {
			if s.cfg.MaxInFlight > 0 {
				api.Use(middleware.Throttle(s.cfg.MaxInFlight))
			}
			api.Use(s.auth.Middleware(s.writeAuthError))
			api.Post("/api/check", s.handleCheck)
			api.Post("/v1/predict", s.handleCheck)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "method_not_allowed")
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		// in-flight requests keep running while Shutdown drains them
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("phishcheck server listening",
			"addr", ln.Addr().String(),
			"model_version", s.engine.Version(),
			"features", s.engine.Schema().Len(),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("phishcheck server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
