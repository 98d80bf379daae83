package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/mainthub/notifier/internal/api/middleware"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
	"github.com/mainthub/notifier/internal/observability"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// APIPrefix is the route prefix of the JSON API.
const APIPrefix = "/api/v1"

// Server is the notifier's HTTP server.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	service *notification.Service
	metrics *observability.Metrics
	clock   notification.Clock

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the module logger of the server.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics exposes the registry on /metrics and records request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock sets the clock used for today counts and toast progress.
func WithClock(c notification.Clock) ServerOption {
	return func(s *Server) {
		s.clock = c
	}
}

// WithConfig overrides the configuration derived from settings.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// New creates an HTTP server over service.
func New(settings *conf.Settings, service *notification.Service, opts ...ServerOption) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    ConfigFromSettings(settings),
		settings:  settings,
		service:   service,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	if s.clock == nil {
		s.clock = notification.SystemClock()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = s.config.Debug
	s.echo.Logger = logger.NewEchoLoggerAdapter(s.log.Module("echo"))
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("listen", s.config.Listen),
		logger.Bool("metrics", s.metrics != nil))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log.Module("access"), func(c echo.Context) bool {
		return c.Path() == "/health" || c.Path() == "/metrics"
	}))

	s.echo.Use(mw.NewHTTPMetrics(s.httpMetrics()))

	securityConfig := mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip())
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	g := s.echo.Group(APIPrefix)

	g.GET("/notifications", s.ListNotifications)
	g.GET("/notifications/summary", s.GetSummary)
	g.GET("/notifications/stream", s.StreamNotifications)
	g.GET("/notifications/:id", s.GetNotification)
	g.POST("/notifications", s.SendNotification)
	g.PUT("/notifications/read-all", s.MarkAllRead)
	g.PUT("/notifications/:id/read", s.MarkRead)
	g.DELETE("/notifications/:id", s.DeleteNotification)
	g.DELETE("/notifications", s.ClearNotifications)
	g.POST("/notifications/reload", s.Reload)
	g.POST("/notifications/:id/actions/:action", s.TriggerAction)

	g.GET("/floating", s.ListFloating)
	g.POST("/floating/:id/dismiss", s.DismissFloating)
	g.POST("/floating/:id/click", s.ClickFloating)

	g.GET("/sounds/:priority", s.GetSound)
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "healthy",
		"connected":       s.service.IsConnected(),
		"using_real_data": s.service.UsingRealData(),
		"uptime":          uptime.Round(time.Second).String(),
		"uptime_seconds":  uptime.Seconds(),
		"timestamp":       s.clock.Now().Format(time.RFC3339),
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("listen", s.config.Listen))
		err := s.echo.Start(s.config.Listen)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown ends open event streams and gracefully stops the server.
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}
