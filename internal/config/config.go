// Package config provides configuration management for the HTTP server.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds the server configuration shared by the manager and all
// worker processes. It is loaded once at startup and never mutated.
type Config struct {
	Listen    string           `toml:"listen"`
	LogLevel  string           `toml:"log_level"`
	Root      string           `toml:"root"`
	Locations []LocationConfig `toml:"locations"`
	MimeTypes string           `toml:"mime_types"`
	Chroot    string           `toml:"chroot"`
	User      string           `toml:"user"`
	TLS       TLSConfig        `toml:"tls"`
	Timeouts  TimeoutsConfig   `toml:"timeouts"`
	Limits    LimitsConfig     `toml:"limits"`
	Metrics   MetricsConfig    `toml:"metrics"`
}

// LocationConfig defines one filesystem prefix with an allow/deny bit.
// Paths are interpreted inside the filesystem worker's chroot (the
// document root) and must end in "/" so that prefix matching cannot
// accidentally cover sibling entries (e.g. "/private" matching
// "/privateX").
type LocationConfig struct {
	Path    string `toml:"path"`
	Blocked bool   `toml:"blocked"`
}

// TLSConfig holds TLS certificate settings. When both files are set the
// manager spawns a crypto worker and every connection is terminated there.
type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// Enabled reports whether TLS termination is configured.
func (c *TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// TimeoutsConfig defines timeout durations as duration strings.
type TimeoutsConfig struct {
	KeepAlive string `toml:"keepalive"`
	Handshake string `toml:"handshake"`
}

// LimitsConfig defines resource limits for the server.
type LimitsConfig struct {
	MaxConnections int `toml:"max_connections"`
}

// MetricsConfig holds configuration for Prometheus metrics. The metrics
// server runs in the manager process, whose pledge set retains inet.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Listen:   "127.0.0.1:8080",
		LogLevel: "info",
		Root:     "/var/www/htdocs/",
		Locations: []LocationConfig{
			{Path: "/", Blocked: false},
		},
		MimeTypes: "/usr/share/misc/mime.types",
		Chroot:    "/var/empty",
		User:      "www",
		Timeouts: TimeoutsConfig{
			KeepAlive: "60s",
			Handshake: "30s",
		},
		Limits: LimitsConfig{
			MaxConnections: 100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9102",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	if len(c.Locations) == 0 {
		return errors.New("at least one location is required")
	}

	for i, l := range c.Locations {
		if l.Path == "" {
			return fmt.Errorf("location %d: path is required", i)
		}
		if !strings.HasPrefix(l.Path, "/") {
			return fmt.Errorf("location %d: path %q must be absolute", i, l.Path)
		}
		if !strings.HasSuffix(l.Path, "/") {
			return fmt.Errorf("location %d: path %q must end in /", i, l.Path)
		}
	}

	if c.Root == "" {
		return errors.New("document root is required")
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls cert_file and key_file must be set together")
	}

	if c.Limits.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}

	if c.Timeouts.KeepAlive != "" {
		if _, err := time.ParseDuration(c.Timeouts.KeepAlive); err != nil {
			return fmt.Errorf("invalid keepalive timeout: %w", err)
		}
	}

	if c.Timeouts.Handshake != "" {
		if _, err := time.ParseDuration(c.Timeouts.Handshake); err != nil {
			return fmt.Errorf("invalid handshake timeout: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// KeepAliveTimeout returns the keep-alive idle timeout as a time.Duration.
// Returns 60 seconds if not configured or invalid.
func (c *TimeoutsConfig) KeepAliveTimeout() time.Duration {
	if c.KeepAlive == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(c.KeepAlive)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// HandshakeTimeout returns the TLS handshake timeout as a time.Duration.
// Returns 30 seconds if not configured or invalid.
func (c *TimeoutsConfig) HandshakeTimeout() time.Duration {
	if c.Handshake == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Handshake)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
