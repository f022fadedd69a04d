// Package config provides Viper-based configuration loading for the signaling server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bken/signaling/internal/core"
)

// EnvPrefix prefixes every environment override, e.g. SIGNALING_SERVER_ADDR.
const EnvPrefix = "SIGNALING"

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address for HTTP and WebSocket traffic.
	Addr string `mapstructure:"addr"`
	// CORSOrigin is the allowed browser origin; "*" allows any.
	CORSOrigin string `mapstructure:"cors_origin"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RoomsConfig holds the limits the room registry enforces.
type RoomsConfig struct {
	MaxRooms        int           `mapstructure:"max_rooms"`
	Lifetime        time.Duration `mapstructure:"lifetime"`
	GraceWindow     time.Duration `mapstructure:"grace_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	DefaultCapacity int           `mapstructure:"default_capacity"`
	MinCapacity     int           `mapstructure:"min_capacity"`
	MaxCapacity     int           `mapstructure:"max_capacity"`
}

// TransportConfig holds per-connection settings shared by every transport.
type TransportConfig struct {
	// SendBuffer is the outbound queue depth per client.
	SendBuffer      int           `mapstructure:"send_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
}

// WebTransportConfig holds the optional QUIC listener settings.
type WebTransportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// Hostname is added to the self-signed certificate SANs.
	Hostname     string        `mapstructure:"hostname"`
	CertValidity time.Duration `mapstructure:"cert_validity"`
}

// JournalConfig holds the room history journal settings.
type JournalConfig struct {
	// Path is the SQLite file; empty disables the journal.
	Path string `mapstructure:"path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Rooms        RoomsConfig        `mapstructure:"rooms"`
	Transport    TransportConfig    `mapstructure:"transport"`
	WebTransport WebTransportConfig `mapstructure:"webtransport"`
	Journal      JournalConfig      `mapstructure:"journal"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// Options converts the rooms section into registry options.
func (r RoomsConfig) Options() core.Options {
	return core.Options{
		MaxRooms:        r.MaxRooms,
		RoomLifetime:    r.Lifetime,
		GraceWindow:     r.GraceWindow,
		DefaultCapacity: r.DefaultCapacity,
		MinCapacity:     r.MinCapacity,
		MaxCapacity:     r.MaxCapacity,
	}
}

// Validate checks all configuration invariants and reports every violation.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateServer(c.Server),
		validateRooms(c.Rooms),
		validateTransport(c.Transport),
		validateWebTransport(c.WebTransport),
		validateLogging(c.Logging),
		validateMetrics(c.Metrics),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joined(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if s.CORSOrigin == "" {
		errs = append(errs, "server.cors_origin must not be empty")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	return joined(errs)
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.MaxRooms < 1 {
		errs = append(errs, fmt.Sprintf("rooms.max_rooms must be >= 1, got %d", r.MaxRooms))
	}
	if r.Lifetime <= 0 {
		errs = append(errs, "rooms.lifetime must be positive")
	}
	if r.GraceWindow <= 0 {
		errs = append(errs, "rooms.grace_window must be positive")
	}
	if r.SweepInterval <= 0 {
		errs = append(errs, "rooms.sweep_interval must be positive")
	}
	if r.MinCapacity < 2 {
		errs = append(errs, fmt.Sprintf("rooms.min_capacity must be >= 2, got %d", r.MinCapacity))
	}
	if r.MaxCapacity < r.MinCapacity {
		errs = append(errs, "rooms.max_capacity must not be below rooms.min_capacity")
	}
	if r.DefaultCapacity < r.MinCapacity || r.DefaultCapacity > r.MaxCapacity {
		errs = append(errs, fmt.Sprintf("rooms.default_capacity must be between %d and %d, got %d", r.MinCapacity, r.MaxCapacity, r.DefaultCapacity))
	}
	return joined(errs)
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	if t.MaxMessageBytes < 1024 {
		errs = append(errs, fmt.Sprintf("transport.max_message_bytes must be >= 1024, got %d", t.MaxMessageBytes))
	}
	if t.WriteTimeout <= 0 {
		errs = append(errs, "transport.write_timeout must be positive")
	}
	if t.PingInterval <= 0 {
		errs = append(errs, "transport.ping_interval must be positive")
	}
	if t.PongTimeout <= 0 {
		errs = append(errs, "transport.pong_timeout must be positive")
	}
	return joined(errs)
}

func validateWebTransport(w WebTransportConfig) error {
	if !w.Enabled {
		return nil
	}
	var errs []string
	if w.Addr == "" {
		errs = append(errs, "webtransport.addr must not be empty when enabled")
	}
	if w.CertValidity <= 0 || w.CertValidity > 14*24*time.Hour {
		errs = append(errs, "webtransport.cert_validity must be positive and at most 336h")
	}
	return joined(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateMetrics(m MetricsConfig) error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", m.Path)
	}
	return nil
}

// Load reads configuration from path when it is non-empty, applies
// environment overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("rooms.max_rooms", 1000)
	v.SetDefault("rooms.lifetime", "1h")
	v.SetDefault("rooms.grace_window", "60s")
	v.SetDefault("rooms.sweep_interval", "60s")
	v.SetDefault("rooms.default_capacity", 2)
	v.SetDefault("rooms.min_capacity", 2)
	v.SetDefault("rooms.max_capacity", 16)

	v.SetDefault("transport.send_buffer", 64)
	v.SetDefault("transport.max_message_bytes", 1<<20)
	v.SetDefault("transport.write_timeout", "5s")
	v.SetDefault("transport.ping_interval", "25s")
	v.SetDefault("transport.pong_timeout", "20s")

	v.SetDefault("webtransport.enabled", false)
	v.SetDefault("webtransport.addr", ":3443")
	v.SetDefault("webtransport.hostname", "")
	v.SetDefault("webtransport.cert_validity", "336h")

	v.SetDefault("journal.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
