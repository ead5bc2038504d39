// Package server assembles the colloquy HTTP service: the router with its
// middleware stack, the http.Server lifecycle, and the wiring from
// configuration to the dialogue service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/colloquy/config"
	"github.com/teilomillet/colloquy/errors"
	"github.com/teilomillet/colloquy/server/handlers"
	"github.com/teilomillet/colloquy/server/metrics"
	"github.com/teilomillet/colloquy/server/middleware"
	"go.uber.org/zap"
)

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig collects what NewRouter mounts.
type RouterConfig struct {
	Dialogues      *handlers.DialogueHandler
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	RateLimit      config.RateLimitConfig
	AllowedOrigins []string
	Health         Pinger // optional
}

// NewRouter creates the chi router with the middleware stack and routes.
func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTimer)
	r.Use(middleware.Logging(rc.Logger))
	r.Use(errors.ErrorHandler(rc.Logger))
	r.Use(middleware.PrometheusMetrics(rc.Metrics))
	r.Use(middleware.CORS(rc.AllowedOrigins))

	r.NotFound(errors.NotFound)
	r.MethodNotAllowed(errors.MethodNotAllowed)

	r.Get("/health", healthHandler(rc.Health))
	r.Handle("/metrics", rc.Metrics.Handler())

	r.Route("/v1/dialogues", func(r chi.Router) {
		if rc.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(rc.RateLimit, rc.Metrics).Handler)
		}
		r.Post("/", rc.Dialogues.Submit)
		r.Get("/", rc.Dialogues.History)
	})

	return r
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = errors.DefaultLogger
	}
	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Port),
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// Start listens on the configured port and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("Server started", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.shutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("Shutting down server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}
