package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"VolSurface/pkg/http/middleware"
	"VolSurface/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler registers a group of routes.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

type serverConfig struct {
	host          string
	port          int
	readTimeout   time.Duration
	writeTimeout  time.Duration
	corsOrigins   []string
	metricsPath   string
	slowThreshold time.Duration
}

type ServerOption func(*serverConfig)

func WithHost(host string) ServerOption {
	return func(c *serverConfig) { c.host = host }
}

// WithPort sets the listen port; 0 picks a free one, see Addr.
func WithPort(port int) ServerOption {
	return func(c *serverConfig) { c.port = port }
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// WithCORSOrigins sets the browser origins allowed to call the API. No origins turns
// CORS off.
func WithCORSOrigins(origins ...string) ServerOption {
	return func(c *serverConfig) { c.corsOrigins = origins }
}

// WithSlowThreshold sets the latency above which requests are logged as slow.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.slowThreshold = d }
}

// WithMetricsPath sets the Prometheus scrape path. An empty path turns metrics off.
func WithMetricsPath(path string) ServerOption {
	return func(c *serverConfig) { c.metricsPath = path }
}

// Server is the echo instance plus its listener.
type Server struct {
	echo *echo.Echo
	cfg  serverConfig
	log  *logger.Logger
	ln   net.Listener
	done chan struct{}
}

func NewServer(l *logger.Logger, handlers []Handler, opts ...ServerOption) *Server {
	cfg := serverConfig{
		host:          "0.0.0.0",
		port:          8080,
		readTimeout:   10 * time.Second,
		writeTimeout:  30 * time.Second,
		corsOrigins:   []string{"*"},
		metricsPath:   "/metrics",
		slowThreshold: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.readTimeout
	e.Server.WriteTimeout = cfg.writeTimeout

	// request id first so the recover and access logs can carry it
	e.Use(middleware.RequestID(), middleware.Recover(l), middleware.RequestLogging(l))
	if cfg.metricsPath != "" {
		e.Use(middleware.Metrics(l, cfg.slowThreshold, cfg.metricsPath))
	}
	if len(cfg.corsOrigins) > 0 {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins:  cfg.corsOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
			ExposeHeaders: []string{echo.HeaderRetryAfter, echo.HeaderXRequestID},
			MaxAge:        10 * time.Minute,
		}))
	}

	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
	if cfg.metricsPath != "" {
		e.GET(cfg.metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	return &Server{echo: e, cfg: cfg, log: l}
}

// Start binds the port and serves in the background. A port that cannot be bound is
// reported here rather than from the serving goroutine.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.log.Info("http server listening", logger.String("addr", ln.Addr().String()))
		if err := s.echo.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-s.done
	s.log.Info("http server stopped")
	return nil
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
