// Package config loads and validates the TOML configuration files shared
// by the capture and aggregator binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// InterfaceConfig describes one NIC the capture engine should open.
type InterfaceConfig struct {
	Name        string `toml:"name"`
	Promiscuous *bool  `toml:"promiscuous"`
	Description string `toml:"description"`
}

// PromiscuousEnabled reports whether promiscuous mode should be requested
// for this interface. Absent from the TOML file defaults to true.
func (i InterfaceConfig) PromiscuousEnabled() bool {
	return i.Promiscuous == nil || *i.Promiscuous
}

// CaptureConfig is the [capture] section.
type CaptureConfig struct {
	Mode            string            `toml:"mode"`
	RingBufferSize  int               `toml:"ring_buffer_size"`
	SnapLength      int               `toml:"snap_length"`
	FlushIntervalMs int               `toml:"flush_interval_ms"`
	BatchSize       int               `toml:"batch_size"`
	Interfaces      []InterfaceConfig `toml:"interfaces"`
}

// RedisConfig is the [redis] section, shared by both binaries though each
// only reads the fields relevant to its role.
type RedisConfig struct {
	URL             string `toml:"url"`
	StreamName      string `toml:"stream_name"`
	MaxStreamLength int64  `toml:"max_stream_length"`
	PoolSize        int    `toml:"pool_size"`
	ConsumerGroup   string `toml:"consumer_group"`
	ConsumerName    string `toml:"consumer_name"`
	BatchSize       int64  `toml:"batch_size"`
	BlockMs         int    `toml:"block_ms"`
}

// AggregationConfig is the [aggregation] section.
type AggregationConfig struct {
	PersistIntervalSecs int    `toml:"persist_interval_secs"`
	InactivityTimeout   int    `toml:"inactivity_timeout"`
	FlowTimeout         int    `toml:"flow_timeout"`
	MetricsBucket       string `toml:"metrics_bucket"`
}

// DatabaseConfig is the [database] section.
type DatabaseConfig struct {
	URL             string `toml:"url"`
	MaxConnections  int32  `toml:"max_connections"`
	ConnectTimeoutS int    `toml:"connect_timeout"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
	Stdout bool   `toml:"stdout"`
}

// Config is the root of a NetSentinel TOML configuration file. Both
// binaries parse the same file shape and read only the sections that
// apply to their role.
type Config struct {
	Capture     CaptureConfig     `toml:"capture"`
	Redis       RedisConfig       `toml:"redis"`
	Aggregation AggregationConfig `toml:"aggregation"`
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
}

// Load reads and parses the TOML file at path, applies defaults for the
// optional fields the file left zero-valued, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// setDefaults fills in the optional fields go-toml/v2 left at their zero
// value, the same way this codebase's prior YAML config loader applied
// defaults in code rather than via struct tags. logging.stdout gets no
// default and stays false unless the file sets it; logging.file stays
// empty.
func (c *Config) setDefaults() {
	if c.Capture.Mode == "" {
		c.Capture.Mode = "mirror"
	}
	if c.Capture.RingBufferSize == 0 {
		c.Capture.RingBufferSize = 8192
	}
	if c.Capture.SnapLength == 0 {
		c.Capture.SnapLength = 1518
	}
	if c.Capture.FlushIntervalMs == 0 {
		c.Capture.FlushIntervalMs = 100
	}
	if c.Capture.BatchSize == 0 {
		c.Capture.BatchSize = 1000
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://127.0.0.1:6379"
	}
	if c.Redis.StreamName == "" {
		c.Redis.StreamName = "netsentinel:frames"
	}
	if c.Redis.MaxStreamLength == 0 {
		c.Redis.MaxStreamLength = 100000
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 4
	}
	if c.Redis.ConsumerGroup == "" {
		c.Redis.ConsumerGroup = "aggregator"
	}
	if c.Redis.ConsumerName == "" {
		c.Redis.ConsumerName = "aggregator-1"
	}
	if c.Redis.BatchSize == 0 {
		c.Redis.BatchSize = 100
	}
	if c.Redis.BlockMs == 0 {
		c.Redis.BlockMs = 1000
	}

	if c.Aggregation.PersistIntervalSecs == 0 {
		c.Aggregation.PersistIntervalSecs = 60
	}
	if c.Aggregation.InactivityTimeout == 0 {
		c.Aggregation.InactivityTimeout = 300
	}
	if c.Aggregation.FlowTimeout == 0 {
		c.Aggregation.FlowTimeout = 120
	}
	if c.Aggregation.MetricsBucket == "" {
		c.Aggregation.MetricsBucket = "1 minute"
	}

	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
	if c.Database.ConnectTimeoutS == 0 {
		c.Database.ConnectTimeoutS = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "pretty"
	}
}

// validate checks fields both binaries actually need. capture.interfaces
// and database.url are each required by only one of the two binaries, so
// they're scoped out of this shared loader into ValidateForCapture and
// ValidateForAggregator respectively.
func (c *Config) validate() error {
	for _, iface := range c.Capture.Interfaces {
		if iface.Name == "" {
			return fmt.Errorf("capture.interfaces: entry missing name")
		}
	}
	if c.Capture.Mode != "mirror" && c.Capture.Mode != "bypass" {
		return fmt.Errorf("capture.mode: must be %q or %q, got %q", "mirror", "bypass", c.Capture.Mode)
	}
	return nil
}

// ValidateForCapture applies the capture binary's additional requirement
// that at least one interface be configured.
func (c *Config) ValidateForCapture() error {
	if len(c.Capture.Interfaces) == 0 {
		return fmt.Errorf("capture.interfaces: at least one interface is required")
	}
	return nil
}

// ValidateForAggregator applies the aggregator binary's additional
// requirement that a database be configured, since the capture binary
// never opens a database connection.
func (c *Config) ValidateForAggregator() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	return nil
}

// FlushInterval returns capture.flush_interval_ms as a time.Duration.
func (c *CaptureConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// BlockInterval returns redis.block_ms as a time.Duration.
func (c *RedisConfig) BlockInterval() time.Duration {
	return time.Duration(c.BlockMs) * time.Millisecond
}

// ConnectTimeout returns database.connect_timeout as a time.Duration.
func (c *DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutS) * time.Second
}

// PersistInterval returns aggregation.persist_interval_secs as a
// time.Duration.
func (c *AggregationConfig) PersistInterval() time.Duration {
	return time.Duration(c.PersistIntervalSecs) * time.Second
}
