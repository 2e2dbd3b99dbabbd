// Package config handles shadow session configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shadow configuration.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Relay   RelayConfig   `yaml:"relay"`
	Loader  LoaderConfig  `yaml:"loader"`
	Log     LogConfig     `yaml:"log"`
}

// SessionConfig tunes a single session.
type SessionConfig struct {
	// Codec names the wire codec: json | cbor | json+zstd | cbor+zstd.
	Codec string `yaml:"codec"`

	CoalesceDelay   time.Duration `yaml:"coalesce_delay"`
	CoalesceMaxWait time.Duration `yaml:"coalesce_max_wait"`
	HoverDwell      time.Duration `yaml:"hover_dwell"`
	SelectionGuard  time.Duration `yaml:"selection_guard"`
	ScrollGuard     time.Duration `yaml:"scroll_guard"`

	// SnapshotInterval re-sends a full snapshot periodically. Zero disables it.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	// SnapshotRequest is how often a viewer without a mirror asks the
	// controller for a snapshot.
	SnapshotRequest time.Duration `yaml:"snapshot_request"`
	// MatchSize draws the mirror unscaled when the viewer is large enough.
	MatchSize bool `yaml:"match_size"`

	// Attributes extends the default attribute allowlist.
	Attributes []string `yaml:"attributes"`
}

// RelayConfig controls the fan-out server.
type RelayConfig struct {
	Listen     string `yaml:"listen"`
	AuditDB    string `yaml:"audit_db"`
	QueueDepth int    `yaml:"queue_depth"`
	MaxMessage int64  `yaml:"max_message"`
}

// LoaderConfig controls how the controller obtains its page.
type LoaderConfig struct {
	Mode        string        `yaml:"mode"` // auto | http | browser
	Timeout     time.Duration `yaml:"timeout"`
	MaxBody     int64         `yaml:"max_body"`
	UserAgent   string        `yaml:"user_agent"`
	Remote      string        `yaml:"remote"`
	MemoryLimit int64         `yaml:"memory_limit"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Session.ApplyDefaults()
	if c.Relay.Listen == "" {
		c.Relay.Listen = ":8080"
	}
	if c.Relay.QueueDepth <= 0 {
		c.Relay.QueueDepth = 256
	}
	if c.Relay.MaxMessage <= 0 {
		c.Relay.MaxMessage = 16 << 20
	}
	if c.Loader.Mode == "" {
		c.Loader.Mode = "auto"
	}
	if c.Loader.Timeout <= 0 {
		c.Loader.Timeout = 30 * time.Second
	}
	if c.Loader.MaxBody <= 0 {
		c.Loader.MaxBody = 10 << 20
	}
	if c.Loader.MemoryLimit <= 0 {
		c.Loader.MemoryLimit = 1 << 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ApplyDefaults fills zero durations with the protocol's observed timings.
func (s *SessionConfig) ApplyDefaults() {
	if s.Codec == "" {
		s.Codec = "json"
	}
	if s.CoalesceDelay <= 0 {
		s.CoalesceDelay = 30 * time.Millisecond
	}
	if s.CoalesceMaxWait <= 0 {
		s.CoalesceMaxWait = 4 * s.CoalesceDelay
	}
	if s.HoverDwell <= 0 {
		s.HoverDwell = 200 * time.Millisecond
	}
	if s.SelectionGuard <= 0 {
		s.SelectionGuard = 200 * time.Millisecond
	}
	if s.ScrollGuard <= 0 {
		s.ScrollGuard = 200 * time.Millisecond
	}
	if s.SnapshotRequest <= 0 {
		s.SnapshotRequest = time.Second
	}
	if s.SnapshotInterval < 0 {
		s.SnapshotInterval = 0
	}
}
