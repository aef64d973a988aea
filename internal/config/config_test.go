package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing listen",
			mutate: func(c *Config) { c.Listen = "" },
			want:   "listen address",
		},
		{
			name:   "bad listen",
			mutate: func(c *Config) { c.Listen = "no-port" },
			want:   "invalid listen address",
		},
		{
			name:   "no locations",
			mutate: func(c *Config) { c.Locations = nil },
			want:   "at least one location",
		},
		{
			name: "relative location",
			mutate: func(c *Config) {
				c.Locations = []LocationConfig{{Path: "www/"}}
			},
			want: "must be absolute",
		},
		{
			name: "location without trailing slash",
			mutate: func(c *Config) {
				c.Locations = []LocationConfig{{Path: "/private"}}
			},
			want: "must end in /",
		},
		{
			name:   "missing root",
			mutate: func(c *Config) { c.Root = "" },
			want:   "document root",
		},
		{
			name:   "cert without key",
			mutate: func(c *Config) { c.TLS.CertFile = "/etc/ssl/cert.pem" },
			want:   "must be set together",
		},
		{
			name:   "zero max connections",
			mutate: func(c *Config) { c.Limits.MaxConnections = 0 },
			want:   "max_connections",
		},
		{
			name:   "bad keepalive",
			mutate: func(c *Config) { c.Timeouts.KeepAlive = "soon" },
			want:   "keepalive",
		},
		{
			name: "metrics without address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Address = ""
			},
			want: "metrics address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestTimeoutAccessors(t *testing.T) {
	tc := TimeoutsConfig{KeepAlive: "90s", Handshake: "10s"}
	if got := tc.KeepAliveTimeout(); got != 90*time.Second {
		t.Errorf("KeepAliveTimeout() = %v, want 90s", got)
	}
	if got := tc.HandshakeTimeout(); got != 10*time.Second {
		t.Errorf("HandshakeTimeout() = %v, want 10s", got)
	}

	empty := TimeoutsConfig{}
	if got := empty.KeepAliveTimeout(); got != 60*time.Second {
		t.Errorf("default KeepAliveTimeout() = %v, want 60s", got)
	}
	if got := empty.HandshakeTimeout(); got != 30*time.Second {
		t.Errorf("default HandshakeTimeout() = %v, want 30s", got)
	}
}

func TestTLSEnabled(t *testing.T) {
	var tc TLSConfig
	if tc.Enabled() {
		t.Error("empty TLSConfig reports enabled")
	}
	tc = TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}
	if !tc.Enabled() {
		t.Error("populated TLSConfig reports disabled")
	}
}
