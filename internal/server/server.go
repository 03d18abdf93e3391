// Package server assembles the HTTP surface of the service.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/wsu/workorderpro/api"
	"github.com/wsu/workorderpro/internal/config"
	"github.com/wsu/workorderpro/internal/limiter"
	"github.com/wsu/workorderpro/internal/metrics"
	"github.com/wsu/workorderpro/ports"
	"github.com/wsu/workorderpro/services/workorder"
)

// Deps are the collaborators the server routes to.
type Deps struct {
	Service  workorder.Service
	Store    ports.Store
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Limiter  *limiter.Limiter
}

// Server wraps the router and its dependencies.
type Server struct {
	cfg    config.ServerConfig
	router *gin.Engine
	deps   Deps
}

// New creates a server with all routes and middleware installed.
func New(cfg config.ServerConfig, serviceName string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(requestID())
	r.Use(accessLog(deps.Logger))
	r.Use(observe(deps.Metrics))

	s := &Server{cfg: cfg, router: r, deps: deps}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
			s.deps.Logger.ErrorContext(c.Request.Context(), "health check failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "db not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	g := s.router.Group("/", rateLimit(s.deps.Limiter, s.deps.Logger))
	api.RegisterRoutes(g, s.deps.Service)
}

// Handler exposes the HTTP handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", "addr", s.cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
