// Package config provides configuration management for the netsnip agent.
//
// Configuration is loaded via viper from a TOML, YAML, or JSON file given by
// path (no file is read when the path is empty), with environment variable
// overrides under the NETSNIP_ prefix for the keys that file sets. It covers
// every component: storage, network
// interface selection, scanning, the ARP controller, the bandwidth limiter,
// the telemetry/API surface, and logging.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage" toml:"storage"`
	Network   NetworkConfig   `mapstructure:"network" toml:"network"`
	Scanner   ScannerConfig   `mapstructure:"scanner" toml:"scanner"`
	ArpCtl    ArpCtlConfig    `mapstructure:"arp_controller" toml:"arp_controller"`
	Limiter   LimiterConfig   `mapstructure:"limiter" toml:"limiter"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" toml:"telemetry"`
	API       APIConfig       `mapstructure:"api" toml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging" toml:"logging"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// NetworkConfig contains network interface selection settings.
type NetworkConfig struct {
	Interface  string `mapstructure:"interface"`
	AutoDetect bool   `mapstructure:"auto_detect"`
}

// ScannerConfig contains device-discovery settings.
type ScannerConfig struct {
	ScanInterval        string `mapstructure:"scan_interval"`
	PingTimeout         string `mapstructure:"ping_timeout"`
	MaxConcurrentPings  int    `mapstructure:"max_concurrent_pings"`
	HostnameLookup      bool   `mapstructure:"hostname_lookup"`
	HostnameLookupDelay string `mapstructure:"hostname_lookup_timeout"`
}

// ArpCtlConfig contains ARP spoofing/controller settings.
type ArpCtlConfig struct {
	PoisonInterval string `mapstructure:"poison_interval"`
	RestoreBursts  int    `mapstructure:"restore_bursts"`
	RestoreDelay   string `mapstructure:"restore_delay"`
}

// LimiterConfig contains bandwidth-limiter settings.
type LimiterConfig struct {
	RefillInterval string `mapstructure:"refill_interval"`
}

// TelemetryConfig contains the websocket/aggregation settings.
type TelemetryConfig struct {
	BroadcastInterval string `mapstructure:"broadcast_interval"`
	StaleAfter        string `mapstructure:"stale_after"`
}

// APIConfig contains the HTTP boundary surface settings.
type APIConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path: "/var/lib/netsnip/netsnip.db",
		},
		Network: NetworkConfig{
			Interface:  "",
			AutoDetect: true,
		},
		Scanner: ScannerConfig{
			ScanInterval:        "60s",
			PingTimeout:         "1s",
			MaxConcurrentPings:  30,
			HostnameLookup:      true,
			HostnameLookupDelay: "2s",
		},
		ArpCtl: ArpCtlConfig{
			PoisonInterval: "1s",
			RestoreBursts:  3,
			RestoreDelay:   "100ms",
		},
		Limiter: LimiterConfig{
			RefillInterval: "100ms",
		},
		Telemetry: TelemetryConfig{
			BroadcastInterval: "1s",
			StaleAfter:        "60s",
		},
		API: APIConfig{
			Host:               "127.0.0.1",
			Port:               8787,
			RateLimitPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load reads configuration from path (if non-empty) layered over defaults.
// NETSNIP_-prefixed environment variables (e.g. NETSNIP_API_PORT) take
// precedence over keys the file sets; keys absent from the file are not
// read from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("netsnip")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// WriteDefaultTOML writes a fully-populated default configuration to path in
// TOML form, for operators bootstrapping a new /etc/netsnip/config.toml.
func WriteDefaultTOML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	return nil
}

// Validate checks invariants across the configuration.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path cannot be empty")
	}
	if c.Scanner.MaxConcurrentPings < 1 {
		return fmt.Errorf("scanner max_concurrent_pings must be at least 1")
	}
	if c.ArpCtl.RestoreBursts < 1 {
		return fmt.Errorf("arp_controller restore_bursts must be at least 1")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api port must be between 1 and 65535")
	}
	if c.API.Host == "" {
		return fmt.Errorf("api host cannot be empty")
	}
	return nil
}
