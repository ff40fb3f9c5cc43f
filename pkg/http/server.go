package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"AlphaDesk/pkg/http/middleware"
	"AlphaDesk/pkg/logger"
)

var corsDefaults = middleware.CORSConfig{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORS            bool
	SlowRequest     time.Duration
	MetricsPath     string
	MetricsHandler  http.Handler
	HTTPMetrics     *middleware.HTTPMetrics
	Logger          *logger.Logger
}

type ServerOption func(*ServerConfig)

// Server is the operator API. Middleware order: recover, access log,
// request metrics, CORS.
type Server struct {
	echo *echo.Echo
	cfg  ServerConfig
	log  *logger.Logger
}

func NewServer(h Handler, opts ...ServerOption) *Server {
	cfg := ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORS:            true,
		SlowRequest:     time.Second,
		Logger:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := echo.New()
	e.HideBanner, e.HidePort = true, true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(cfg.Logger), middleware.RequestLogging(cfg.Logger))
	if cfg.HTTPMetrics != nil {
		e.Use(cfg.HTTPMetrics.Middleware(cfg.Logger, cfg.SlowRequest))
	}
	if cfg.CORS {
		e.Use(middleware.CORS(corsDefaults))
	}
	if h != nil {
		h.RegisterRoutes(e)
	}
	if cfg.MetricsPath != "" && cfg.MetricsHandler != nil {
		e.GET(cfg.MetricsPath, echo.WrapHandler(cfg.MetricsHandler))
	}
	return &Server{echo: e, cfg: cfg, log: cfg.Logger.Component("http")}
}

// Start binds the listener before returning so a taken port fails the
// caller; serving then continues in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.echo.Listener = ln
	s.log.Info("http server listening", logger.String("addr", ln.Addr().String()))
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.echo.Listener == nil {
		return ""
	}
	return s.echo.Listener.Addr().String()
}

// Stop drains in-flight requests for at most the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func WithHost(host string) ServerOption {
	return func(c *ServerConfig) { c.Host = host }
}

func WithPort(port int) ServerOption {
	return func(c *ServerConfig) { c.Port = port }
}

func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout = read, write, shutdown
	}
}

func WithCORS(enabled bool) ServerOption {
	return func(c *ServerConfig) { c.CORS = enabled }
}

func WithLogger(l *logger.Logger) ServerOption {
	return func(c *ServerConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics serves h on path and records per-route metrics with m.
// Either may be nil.
func WithMetrics(path string, h http.Handler, m *middleware.HTTPMetrics) ServerOption {
	return func(c *ServerConfig) {
		c.MetricsPath, c.MetricsHandler, c.HTTPMetrics = path, h, m
	}
}

// WithSlowRequest sets the latency above which requests are logged as slow.
func WithSlowRequest(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.SlowRequest = d }
}
