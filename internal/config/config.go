// Package config loads the peerdrop YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRelayAddr is the relay listen address.
	DefaultRelayAddr = ":8080"
	// DefaultWSPath is the WebSocket endpoint path.
	DefaultWSPath = "/ws"
	// DefaultOutboxSize bounds queued frames per relay connection.
	DefaultOutboxSize = 64
	// DefaultRelayURL is used by clients when nothing else is configured.
	DefaultRelayURL = "ws://localhost:8080/ws"
	// DefaultFallbackTimeout bounds direct channel negotiation.
	DefaultFallbackTimeout = 10 * time.Second
	// DefaultDownloadDir receives incoming files.
	DefaultDownloadDir = "downloads"
	// DefaultMirrorDriver is the pure Go sqlite driver.
	DefaultMirrorDriver = "sqlite"
	// DefaultMirrorDSN is the sqlite database file.
	DefaultMirrorDSN = "peerdrop.sqlite3"
	// DefaultReconcileSpec is the cron spec for full mirror reconciliation.
	DefaultReconcileSpec = "@every 1m"
	// DefaultService is the mDNS service name.
	DefaultService = "_peerdrop._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	Client    ClientConfig    `yaml:"client"`
	Log       LogConfig       `yaml:"log"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

type RelayConfig struct {
	Addr           string   `yaml:"addr"`
	Path           string   `yaml:"path"`
	OutboxSize     int      `yaml:"outbox_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ClientConfig struct {
	RelayURL        string        `yaml:"relay_url"`
	DeviceID        string        `yaml:"device_id"`
	DeviceName      string        `yaml:"device_name"`
	DeviceType      string        `yaml:"device_type"`
	STUNServers     []string      `yaml:"stun_servers"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	DownloadDir     string        `yaml:"download_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MirrorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Reconcile string `yaml:"reconcile"`
}

type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.withDefaults()
	return cfg
}

func (c *Config) withDefaults() {
	if c.Relay.Addr == "" {
		c.Relay.Addr = DefaultRelayAddr
	}
	if c.Relay.Path == "" {
		c.Relay.Path = DefaultWSPath
	}
	if c.Relay.OutboxSize <= 0 {
		c.Relay.OutboxSize = DefaultOutboxSize
	}

	if c.Client.RelayURL == "" {
		c.Client.RelayURL = DefaultRelayURL
	}
	if c.Client.DeviceName == "" {
		c.Client.DeviceName = "peerdrop device"
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Client.DeviceName = host
		}
	}
	if c.Client.DeviceType == "" {
		c.Client.DeviceType = "desktop"
	}
	if len(c.Client.STUNServers) == 0 {
		c.Client.STUNServers = append([]string(nil), defaultSTUNServers...)
	}
	if c.Client.FallbackTimeout <= 0 {
		c.Client.FallbackTimeout = DefaultFallbackTimeout
	}
	if c.Client.DownloadDir == "" {
		c.Client.DownloadDir = DefaultDownloadDir
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Mirror.Driver == "" {
		c.Mirror.Driver = DefaultMirrorDriver
	}
	if c.Mirror.DSN == "" && c.Mirror.Driver == DefaultMirrorDriver {
		c.Mirror.DSN = DefaultMirrorDSN
	}
	if c.Mirror.Reconcile == "" {
		c.Mirror.Reconcile = DefaultReconcileSpec
	}

	if c.Discovery.Service == "" {
		c.Discovery.Service = DefaultService
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = DefaultDomain
	}
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.withDefaults()
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EnsureDeviceID assigns a persistent device id when none is set and
// reports whether the config changed.
func (c *Config) EnsureDeviceID() bool {
	if c.Client.DeviceID != "" {
		return false
	}
	c.Client.DeviceID = uuid.NewString()
	return true
}
