// Package api serves the notification client's backend-for-frontend: a JSON
// API over the notification service, its SSE event stream, the alert tones
// and the Prometheus endpoint.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = "127.0.0.1:8090"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHeartbeat       = 30 * time.Second
	DefaultMaxStream       = 30 * time.Minute
	DefaultBodyLimit       = "1M"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string   // host:port
	AllowedOrigins []string // CORS allowed origins

	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// WriteTimeout stays zero so SSE streams are not cut; each SSE write
	// carries its own deadline.
	WriteTimeout time.Duration

	HeartbeatInterval time.Duration // SSE keep-alive
	MaxStreamDuration time.Duration // SSE connections are closed after this long

	BodyLimit string // e.g. "1M"
	Debug     bool

	PerPage int    // list page size when the query has none
	Locale  string // collation locale when the query has none
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:            DefaultListen,
		AllowedOrigins:    []string{"*"},
		ReadTimeout:       DefaultReadTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		HeartbeatInterval: DefaultHeartbeat,
		MaxStreamDuration: DefaultMaxStream,
		BodyLimit:         DefaultBodyLimit,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	cfg.Debug = settings.Debug
	cfg.PerPage = settings.List.PerPage
	cfg.Locale = settings.List.Locale
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.MaxStreamDuration <= 0 {
		return fmt.Errorf("max stream duration must be positive")
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: listen=%s, debug=%v", c.Listen, c.Debug)
}
