// Package httpapi serves the signal tools over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/gammarips/overnightedge/internal/monitor"
	"github.com/gammarips/overnightedge/internal/signals"
	"github.com/gammarips/overnightedge/internal/tools"
	"github.com/gin-gonic/gin"
)

// TierHeader carries the caller's subscription tier.
const TierHeader = "X-User-Tier"

// Dispatcher runs tool calls.
type Dispatcher interface {
	Call(ctx context.Context, caller signals.Caller, name string, args map[string]any) tools.Result
}

// Health reports store health.
type Health interface {
	Snapshot() []monitor.StoreHealth
	Healthy() bool
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	srv        *http.Server
	dispatcher Dispatcher
	health     Health
}

// NewServer creates a Server with every route installed. health may be nil.
func NewServer(cfg Config, dispatcher Dispatcher, health Health) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	s := &Server{
		router:     router,
		dispatcher: dispatcher,
		health:     health,
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/tools", s.handleListTools)
		v1.POST("/tools/:name", s.handleCallTool)

		v1.GET("/signals", s.handleSignals)
		v1.GET("/signals/:ticker", s.handleSignalDetail)
		v1.GET("/movers", s.handleMovers)
		v1.GET("/themes", s.handleThemes)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
