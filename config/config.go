package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/health"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/pkg/tlsutil"
	"github.com/NodLabs/xviz/provider"
	"github.com/NodLabs/xviz/server"
	"github.com/NodLabs/xviz/session"
)

// Config is the complete server configuration. Durations named in
// milliseconds or seconds keep those units in every file format.
type Config struct {
	Format        string    `json:"format,omitempty"`            // JSON_STRING, JSON_BUFFER, BINARY_GLB; empty = provider-native
	Live          bool      `json:"live"`                        // Paced playback with reconnect
	Delay         int       `json:"delay"`                       // Pacing interval in ms for providers without a rate
	Scenarios     bool      `json:"scenarios"`                   // Serve scenario_<name> logs
	Duration      float64   `json:"duration"`                    // Scenario length in seconds
	Hz            float64   `json:"hz"`                          // Scenario frame rate
	Directory     []string  `json:"directory,omitempty"`         // Archive roots searched in order
	CacheSize     int       `json:"cache_size"`                  // Decoded archive files kept in memory, 0 = off
	ReadAhead     int       `json:"read_ahead"`                  // Archive frames decoded ahead of each session
	Port          int       `json:"port"`                        // Listen port, 0 = ephemeral
	Reconnect     int       `json:"reconnect"`                   // Wait in ms before each recovery attempt
	MaxReconnects int       `json:"max_reconnects"`              // 0 = unlimited
	SinkURL       string    `json:"sinkurl,omitempty"`           // Upstream for the live relay; empty disables it
	LiveLog       string    `json:"live_log,omitempty"`          // Log name routed to the live relay
	BufferSize    int       `json:"buffer_size"`                 // Outbound queue capacity per session
	Log           LogConfig `json:"log"`                         // Logging
	Metrics       bool      `json:"metrics"`                     // Serve /metrics
	Handshake     int       `json:"handshake_timeout,omitempty"` // Upstream dial timeout in ms

	TLS         tlsutil.ServerConfig `json:"tls"`          // Serve wss:// when a certificate is set
	UpstreamTLS tlsutil.ClientConfig `json:"upstream_tls"` // Verification of wss:// and tls:// sinks
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Delay:      50,
		Scenarios:  true,
		Duration:   30,
		Hz:         10,
		Port:       8081,
		Reconnect:  500,
		LiveLog:    provider.DefaultLiveLog,
		BufferSize: 32,
		CacheSize:  256,
		ReadAhead:  8,
		Metrics:    true,
		Handshake:  5000,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks ranges and normalizes enumerations in place.
func (c *Config) Validate() error {
	if c.Format != "" {
		f, err := codec.ParseFormat(c.Format)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		c.Format = string(f)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0, got %d", c.Delay)
	}
	if c.Reconnect < 0 {
		return fmt.Errorf("reconnect must be >= 0, got %d", c.Reconnect)
	}
	if c.MaxReconnects < 0 {
		return fmt.Errorf("max_reconnects must be >= 0, got %d", c.MaxReconnects)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must be >= 0, got %d", c.CacheSize)
	}
	if c.ReadAhead < 0 {
		return fmt.Errorf("read_ahead must be >= 0, got %d", c.ReadAhead)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be >= 1, got %d", c.BufferSize)
	}
	if c.Scenarios {
		if !(c.Duration > 0 && c.Duration <= provider.MaxScenarioDuration) {
			return fmt.Errorf("duration must be in (0, %v], got %v", provider.MaxScenarioDuration, c.Duration)
		}
		if !(c.Hz > 0 && c.Hz <= provider.MaxScenarioHz) {
			return fmt.Errorf("hz must be in (0, %v], got %v", provider.MaxScenarioHz, c.Hz)
		}
	}
	for i, dir := range c.Directory {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("directory[%d] is empty", i)
		}
	}
	if c.SinkURL != "" {
		u, err := url.Parse(c.SinkURL)
		if err != nil {
			return fmt.Errorf("sinkurl: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss", "nats", "tls":
		default:
			return fmt.Errorf("sinkurl: unsupported scheme %q", u.Scheme)
		}
	}
	if c.LiveLog == "" {
		c.LiveLog = provider.DefaultLiveLog
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	if (c.UpstreamTLS.CertFile == "") != (c.UpstreamTLS.KeyFile == "") {
		return errors.New("upstream_tls: cert_file and key_file must be set together")
	}
	for name, v := range map[string]string{"tls": c.TLS.MinVersion, "upstream_tls": c.UpstreamTLS.MinVersion} {
		switch v {
		case "", "1.2", "1.3":
		default:
			return fmt.Errorf("%s.min_version must be 1.2 or 1.3, got %q", name, v)
		}
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("log.level must be debug, info, warn or error")
	}
}

// Session returns the per-session settings.
func (c *Config) Session() session.Config {
	return session.Config{
		Format:        codec.Format(c.Format),
		Live:          c.Live,
		Delay:         time.Duration(c.Delay) * time.Millisecond,
		Reconnect:     time.Duration(c.Reconnect) * time.Millisecond,
		MaxReconnects: c.MaxReconnects,
		BufferSize:    c.BufferSize,
	}
}

// Server returns the listener settings, loading the certificate when TLS is on.
func (c *Config) Server() (server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.Port = c.Port

	tlsConfig, err := tlsutil.LoadServerTLSConfig(c.TLS)
	if err != nil {
		return cfg, err
	}
	cfg.TLS = tlsConfig
	return cfg, nil
}

// ScenarioOptions returns the scenario generator defaults.
func (c *Config) ScenarioOptions(logger *slog.Logger) provider.ScenarioOptions {
	return provider.ScenarioOptions{Duration: c.Duration, Hz: c.Hz, Logger: logger}
}

// ArchiveOptions returns the archive reader roots and frame cache settings.
// registry may be nil.
func (c *Config) ArchiveOptions(logger *slog.Logger, registry *metric.MetricsRegistry) provider.ArchiveOptions {
	return provider.ArchiveOptions{
		Roots:     c.Directory,
		CacheSize: c.CacheSize,
		ReadAhead: c.ReadAhead,
		Metrics:   registry,
		Logger:    logger,
	}
}

// LiveOptions returns the live relay settings. monitor may be nil.
func (c *Config) LiveOptions(logger *slog.Logger, monitor *health.Monitor) (provider.LiveOptions, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(c.UpstreamTLS)
	if err != nil {
		return provider.LiveOptions{}, err
	}
	return provider.LiveOptions{
		SinkURL:          c.SinkURL,
		LogName:          c.LiveLog,
		HandshakeTimeout: time.Duration(c.Handshake) * time.Millisecond,
		TLS:              tlsConfig,
		Health:           monitor,
		Logger:           logger,
	}, nil
}

// String renders the configuration for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("format=%q live=%t delay=%dms scenarios=%t duration=%vs hz=%v directory=%v port=%d "+
		"cache_size=%d reconnect=%dms max_reconnects=%d sinkurl=%q live_log=%q buffer_size=%d tls=%t",
		c.Format, c.Live, c.Delay, c.Scenarios, c.Duration, c.Hz, c.Directory, c.Port,
		c.CacheSize, c.Reconnect, c.MaxReconnects, c.SinkURL, c.LiveLog, c.BufferSize, c.TLS.Enabled())
}
