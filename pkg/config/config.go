package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/goccy/go-yaml"
)

const (
	defaultPort          = 8402
	defaultHotTierSize   = 256
	defaultRetentionCron = "0 2 * * *" // daily at 02:00
	defaultRetentionAge  = 720 * time.Hour
	defaultBatchSize     = 1000
	defaultRatePerSec    = 100.0
	defaultOutboxCap     = 4096
	defaultTelemetryCap  = 2048
)

// Flags holds command-line overrides.
type Flags struct {
	ConfigPath string
	DBPath     string
	Addr       string
	Port       int
	Set        map[string]bool
}

// ParseFlags reads command-line flags, recording which were explicitly set.
func ParseFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "chatshard.yaml", "path to config file")
	flag.StringVar(&f.DBPath, "db", "", "path to shard keyspace")
	flag.StringVar(&f.Addr, "addr", "", "health listener address")
	flag.IntVar(&f.Port, "port", 0, "health listener port")
	flag.Parse()
	f.Set = map[string]bool{}
	flag.Visit(func(fl *flag.Flag) { f.Set[fl.Name] = true })
	return f
}

// Load builds the effective config: defaults, then file, then environment,
// then flags.
func Load(flags Flags) (*Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(flags.ConfigPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", flags.ConfigPath, err)
		}
	} else if flags.Set["config"] {
		// an explicitly named file must exist
		return nil, fmt.Errorf("read config file %s: %w", flags.ConfigPath, err)
	}

	applyEnv(cfg)

	if flags.Set["db"] {
		cfg.Store.Path = flags.DBPath
	}
	if flags.Set["addr"] {
		cfg.Server.Address = flags.Addr
	}
	if flags.Set["port"] {
		cfg.Server.Port = flags.Port
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: defaultPort},
		Store:  StoreConfig{Path: "data/shard", HotTierSize: defaultHotTierSize},
		Retention: RetentionConfig{
			Cron:       defaultRetentionCron,
			Period:     defaultRetentionAge.String(),
			BatchSize:  defaultBatchSize,
			RatePerSec: defaultRatePerSec,
		},
		Telemetry: TelemetryConfig{
			Dir:           "data/telemetry",
			QueueCapacity: defaultTelemetryCap,
			FlushInterval: Duration(2 * time.Second),
		},
		Outbox: OutboxConfig{Capacity: defaultOutboxCap},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATSHARD_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CHATSHARD_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CHATSHARD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CHATSHARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATSHARD_RETENTION_ENABLED"); v != "" {
		cfg.Retention.Enabled = v == "1" || v == "true"
	}
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Store.HotTierSize < 0 {
		return fmt.Errorf("store.hot_tier_size must be >= 0")
	}
	if cfg.Retention.Enabled {
		if !gronx.New().IsValid(cfg.Retention.Cron) {
			return fmt.Errorf("retention.cron invalid: %q", cfg.Retention.Cron)
		}
		if _, err := time.ParseDuration(cfg.Retention.Period); err != nil {
			return fmt.Errorf("retention.period invalid: %q", cfg.Retention.Period)
		}
		if cfg.Retention.BatchSize <= 0 {
			return fmt.Errorf("retention.batch_size must be > 0")
		}
	}
	return nil
}
