package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SignalCore/pkg/http/middleware"
	applogger "SignalCore/pkg/logger"
)

// Handler registers a group of routes.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// ServerOption configures Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	addr          string
	readTimeout   time.Duration
	writeTimeout  time.Duration
	metricsPath   string
	slowThreshold time.Duration
	registry      *prometheus.Registry
}

// Server serves the read API over Echo.
type Server struct {
	echo *echo.Echo
	http *http.Server
	cfg  serverConfig
	log  *applogger.Logger
	ln   net.Listener
}

// NewServer builds the Echo instance, installs middleware and registers
// handlers. An empty metrics path disables the scrape endpoint.
func NewServer(l *applogger.Logger, handlers []Handler, opts ...ServerOption) *Server {
	cfg := serverConfig{
		addr:          ":8080",
		readTimeout:   10 * time.Second,
		writeTimeout:  10 * time.Second,
		metricsPath:   "/metrics",
		slowThreshold: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if l == nil {
		l = applogger.NewNop()
	}

	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if cfg.registry != nil {
		reg, gatherer = cfg.registry, cfg.registry
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// outermost first: metrics see the status the logger settled on, and
	// both see panics as 500s
	e.Use(middleware.Metrics(reg, l, cfg.slowThreshold))
	e.Use(middleware.RequestLogging(l))
	e.Use(middleware.Recover(l))

	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
	if cfg.metricsPath != "" {
		e.GET(cfg.metricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{
		echo: e,
		http: &http.Server{
			Addr:         cfg.addr,
			Handler:      e,
			ReadTimeout:  cfg.readTimeout,
			WriteTimeout: cfg.writeTimeout,
		},
		cfg: cfg,
		log: l,
	}
}

// Start binds the listener and serves in the background. Bind failures are
// returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.addr, err)
	}
	s.ln = ln
	s.log.Info("http server listening", applogger.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", applogger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.addr
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// WithAddr sets the listen address, e.g. ":8080".
func WithAddr(addr string) ServerOption {
	return func(c *serverConfig) {
		c.addr = addr
	}
}

// WithPort listens on all interfaces at port.
func WithPort(port int) ServerOption {
	return WithAddr(fmt.Sprintf(":%d", port))
}

// WithTimeouts sets read and write timeouts.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// WithSlowThreshold sets when a request is logged as slow. Zero disables.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.slowThreshold = d
	}
}

// WithMetrics sets the scrape path. A non-nil reg replaces the default
// registry for both HTTP metrics and scraping.
func WithMetrics(path string, reg *prometheus.Registry) ServerOption {
	return func(c *serverConfig) {
		c.metricsPath = path
		c.registry = reg
	}
}
