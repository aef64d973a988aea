package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	Role           string
	ConfigPath     string
	Listen         string
	LogLevel       string
	Root           string
	MimeTypes      string
	TLSCert        string
	TLSKey         string
	MaxConnections int
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.Role, "p", "", "Process role (client, crypto, filesystem); empty runs the manager")
	flag.StringVar(&f.ConfigPath, "config", "./httpd.toml", "Path to configuration file")
	flag.StringVar(&f.Listen, "listen", "", "Listen address")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Root, "root", "", "Document root directory")
	flag.StringVar(&f.MimeTypes, "mime-types", "", "Path to mime.types file")
	flag.StringVar(&f.TLSCert, "tls-cert", "", "TLS certificate file path")
	flag.StringVar(&f.TLSKey, "tls-key", "", "TLS key file path")
	flag.IntVar(&f.MaxConnections, "max-connections", 0, "Maximum concurrent connections")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration. Absent
// keys keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Root != "" {
		cfg.Root = f.Root
	}
	if f.MimeTypes != "" {
		cfg.MimeTypes = f.MimeTypes
	}
	if f.TLSCert != "" {
		cfg.TLS.CertFile = f.TLSCert
	}
	if f.TLSKey != "" {
		cfg.TLS.KeyFile = f.TLSKey
	}
	if f.MaxConnections > 0 {
		cfg.Limits.MaxConnections = f.MaxConnections
	}
	return cfg
}

// LoadWithFlags loads the config file named by the flags and applies flag
// overrides on top of it.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}
