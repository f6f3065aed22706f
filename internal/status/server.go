// Package status serves a read-only HTTP view of a running bridge.
package status

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leandrodaf/midibridge/internal/relay"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

// BindingsProvider lists the endpoints the bridge is bound to.
type BindingsProvider interface {
	Bindings() []contracts.Binding
}

// StatsProvider reports relay counters.
type StatsProvider interface {
	Stats() relay.Stats
}

// Server is the status API.
type Server struct {
	bindings BindingsProvider
	stats    StatsProvider
	logger   contracts.Logger
	engine   *gin.Engine
}

// New builds the router. Routes:
//
//	GET /health
//	GET /api/v1/bindings
//	GET /api/v1/stats
func New(bindings BindingsProvider, stats StatsProvider, logger contracts.Logger) *Server {
	s := &Server{bindings: bindings, stats: stats, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/health", s.health)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/bindings", s.listBindings)
		v1.GET("/stats", s.relayStats)
	}
	s.engine = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "status api: listening on %s", addr)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("Status API listening", s.logger.Field().String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return errors.Wrap(err, "status api")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "status api: shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status api")
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listBindings(c *gin.Context) {
	bindings := s.bindings.Bindings()
	if bindings == nil {
		bindings = []contracts.Binding{}
	}
	c.JSON(http.StatusOK, bindings)
}

func (s *Server) relayStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Stats())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Status API request",
			s.logger.Field().String("method", c.Request.Method),
			s.logger.Field().String("path", c.Request.URL.Path),
			s.logger.Field().Int("status", c.Writer.Status()),
			s.logger.Field().Duration("latency", time.Since(start)))
	}
}
