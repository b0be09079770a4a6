package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/collectd-listener/internal/protocol"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Senders SendersConfig `yaml:"senders"`
	Forward ForwardConfig `yaml:"forward"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP listener configuration
type ServerConfig struct {
	Network        string `yaml:"network"` // udp, udp4 or udp6
	BindAddress    string `yaml:"bind_address"`
	UDPPort        int    `yaml:"udp_port"`
	MulticastGroup string `yaml:"multicast_group"` // empty for unicast
	Interface      string `yaml:"interface"`       // NIC used for the multicast join
	BufferSize     int    `yaml:"buffer_size"`
	Workers        int    `yaml:"workers"`
	QueueSize      int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// SendersConfig controls how long idle datagram sources are remembered
type SendersConfig struct {
	TTL             int `yaml:"ttl"`              // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// ForwardConfig contains the optional webhook forwarder configuration
type ForwardConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	AlertsOnly    bool   `yaml:"alerts_only"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for keys missing from the file.
// The listener defaults match the collectd network plugin.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Network:        protocol.DefaultNetwork,
			BindAddress:    "0.0.0.0",
			UDPPort:        protocol.DefaultPort,
			MulticastGroup: protocol.DefaultIPv4Group,
			BufferSize:     65536,
			Workers:        4,
			QueueSize:      1000,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Senders: SendersConfig{
			TTL:             300,
			CleanupInterval: 60,
		},
		Forward: ForwardConfig{
			Timeout:       10,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Senders.Validate(); err != nil {
		return fmt.Errorf("senders config: %w", err)
	}

	if err := c.Forward.Validate(); err != nil {
		return fmt.Errorf("forward config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	switch s.Network {
	case "udp", "udp4", "udp6":
	default:
		return fmt.Errorf("network must be one of [udp, udp4, udp6], got '%s'", s.Network)
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MulticastGroup != "" {
		ip := net.ParseIP(s.MulticastGroup)
		if ip == nil || !ip.IsMulticast() {
			return fmt.Errorf("multicast_group must be a multicast IP address, got '%s'", s.MulticastGroup)
		}
		if s.Network == "udp4" && ip.To4() == nil {
			return fmt.Errorf("multicast_group %s is not an IPv4 address but network is udp4", s.MulticastGroup)
		}
		if s.Network == "udp6" && ip.To4() != nil {
			return fmt.Errorf("multicast_group %s is not an IPv6 address but network is udp6", s.MulticastGroup)
		}
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates sender registry configuration
func (s *SendersConfig) Validate() error {
	if s.TTL < 1 {
		return fmt.Errorf("ttl must be at least 1 second, got %d", s.TTL)
	}

	if s.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates forwarder configuration
func (f *ForwardConfig) Validate() error {
	if !f.Enabled {
		return nil
	}

	u, err := url.Parse(f.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint must be an http(s) URL, got '%s'", f.Endpoint)
	}

	if f.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", f.Timeout)
	}

	if f.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", f.MaxRetries)
	}

	if f.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", f.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// GetTTLDuration returns the sender TTL as a time.Duration
func (s *SendersConfig) GetTTLDuration() time.Duration {
	return time.Duration(s.TTL) * time.Second
}

// GetCleanupIntervalDuration returns the cleanup interval as a time.Duration
func (s *SendersConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}

// GetTimeoutDuration returns the forward timeout as a time.Duration
func (f *ForwardConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}
