// Package server assembles the HTTP surface: status routes, metrics, and the
// shared middleware chain.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/sessionrelay/internal/observability"
	"github.com/danmuck/sessionrelay/internal/status"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const DefaultShutdownTimeout = 5 * time.Second

var ErrAddrRequired = errors.New("server: addr required")

type Config struct {
	Node            string
	Addr            string
	CorsOrigins     []string
	ShutdownTimeout time.Duration
}

func (c Config) WithDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(c.CorsOrigins) == 0 {
		c.CorsOrigins = []string{"http://localhost:3000"}
	}
	return c
}

type Server struct {
	cfg    Config
	router *gin.Engine
}

// New builds the engine. verify gates the status routes; /metrics stays open.
func New(cfg Config, reader status.Reader, verify gin.HandlerFunc) (*Server, error) {
	cfg = cfg.WithDefaults()
	if cfg.Addr == "" {
		return nil, ErrAddrRequired
	}
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CorsOrigins,
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", "X-Relay-Token"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	status.Register(r, reader, verify)

	return &Server{cfg: cfg, router: r}, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeListener serves on ln and shuts down gracefully when ctx ends.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("node", s.cfg.Node).Str("addr", ln.Addr().String()).Msg("http_listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http_shutdown_incomplete")
		return err
	}
	log.Info().Str("node", s.cfg.Node).Msg("http_stopped")
	return nil
}
