package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Outbox    OutboxConfig    `yaml:"outbox"`
}

// ServerConfig holds the health/metrics listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StoreConfig holds the shard keyspace settings.
type StoreConfig struct {
	Path string `yaml:"path"`
	// DisableWAL trades durability for write throughput; leave off unless an
	// application-level log covers recovery.
	DisableWAL  bool      `yaml:"disable_wal"`
	HotTierSize int       `yaml:"hot_tier_size"`
	CacheSize   SizeBytes `yaml:"cache_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig configures the hard-delete sweeper.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how long soft-deleted content is retained before a sweep may
	// promote it to hard-deleted, e.g. "720h".
	Period     string  `yaml:"period"`
	BatchSize  int     `yaml:"batch_size"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	DryRun     bool    `yaml:"dry_run"`
	Paused     bool    `yaml:"paused"`
}

// TelemetryConfig configures trace span capture.
type TelemetryConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Dir           string   `yaml:"dir"`
	QueueCapacity int      `yaml:"queue_capacity"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// OutboxConfig configures the cross-shard propagation buffer.
type OutboxConfig struct {
	Capacity int `yaml:"capacity"`
}

// Addr returns the health listener address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// Duration is a time.Duration unmarshaled from strings like "250ms" or "2h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// SizeBytes is a byte count unmarshaled from human-friendly strings like
// "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = 0
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(n)
		return nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", raw, err)
	}
	*s = SizeBytes(n)
	return nil
}
