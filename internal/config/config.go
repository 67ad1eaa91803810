package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before file, environment and flag overrides.
const (
	DefaultPort           = 8098
	DefaultBufferCapacity = 5000
	DefaultKeepAlive      = "30s"
	DefaultProducerTTL    = "10m"
	DefaultMetaPath       = "pulse.meta"
)

// Config holds all runtime settings. Values are resolved in the order
// default < config file < PULSE_* environment < command-line flag.
type Config struct {
	Port int `yaml:"port"`

	Buffers struct {
		Capacity int `yaml:"capacity"` // per-kind ring capacity
	} `yaml:"buffers"`

	Stream struct {
		KeepAlive string `yaml:"keepalive"` // e.g. "30s"
	} `yaml:"stream"`

	Auth struct {
		Disabled bool   `yaml:"disabled"`
		MetaPath string `yaml:"meta_path"` // encrypted metadata file
		KeyPath  string `yaml:"key_path"`  // master key file
	} `yaml:"auth"`

	Registry struct {
		ProducerTTL   string `yaml:"producer_ttl"`
		PruneInterval string `yaml:"prune_interval"`
	} `yaml:"registry"`

	Cluster struct {
		Peers   []string `yaml:"peers"` // base URLs of peer nodes
		Timeout string   `yaml:"timeout"`
	} `yaml:"cluster"`
}

// New returns a Config populated with defaults.
func New() *Config {
	cfg := &Config{Port: DefaultPort}
	cfg.Buffers.Capacity = DefaultBufferCapacity
	cfg.Stream.KeepAlive = DefaultKeepAlive
	cfg.Auth.MetaPath = DefaultMetaPath
	cfg.Auth.KeyPath = ".pulse.key"
	cfg.Registry.ProducerTTL = DefaultProducerTTL
	cfg.Registry.PruneInterval = "1m"
	cfg.Cluster.Timeout = "10s"
	return cfg
}

// Load reads a YAML config file into a default-populated Config and then
// applies environment overrides. A missing path is not an error: the
// defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Buffers.Capacity <= 0 {
		cfg.Buffers.Capacity = DefaultBufferCapacity
	}
	return cfg, nil
}

// applyEnv overrides settings from PULSE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PULSE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Port = n
		}
	}
	if v := os.Getenv("PULSE_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Buffers.Capacity = n
		}
	}
	if v := os.Getenv("PULSE_KEEPALIVE"); v != "" {
		c.Stream.KeepAlive = v
	}
	if v := os.Getenv("PULSE_AUTH_DISABLED"); v == "1" || v == "true" {
		c.Auth.Disabled = true
	}
}

// KeepAliveInterval parses the stream keep-alive duration, falling back
// to the default when unset or malformed.
func (c *Config) KeepAliveInterval() time.Duration {
	if d, err := time.ParseDuration(c.Stream.KeepAlive); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultKeepAlive)
	return d
}

// ProducerTTL parses the producer staleness timeout.
func (c *Config) ProducerTTL() time.Duration {
	if d, err := time.ParseDuration(c.Registry.ProducerTTL); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultProducerTTL)
	return d
}

// PruneInterval parses the registry prune loop interval.
func (c *Config) PruneInterval() time.Duration {
	if d, err := time.ParseDuration(c.Registry.PruneInterval); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// PeerTimeout parses the federated query timeout.
func (c *Config) PeerTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Cluster.Timeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}
